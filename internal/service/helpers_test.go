package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func samplePaper(testID uuid.UUID) *model.TestPaper {
	return &model.TestPaper{
		TestID:          testID,
		Title:           "Physics",
		DurationSeconds: 600,
		Questions: []model.Question{
			{ID: uuid.NewString(), Text: "g on Earth?", Choices: []string{"9.8", "1.6", "24.8"}, Marks: 2, CorrectChoice: 0, OrderNum: 1},
			{ID: uuid.NewString(), Text: "Unit of force?", Choices: []string{"J", "N", "W"}, Marks: 1, CorrectChoice: 1, OrderNum: 2},
		},
	}
}

type stubPaperStore struct {
	mu     sync.Mutex
	papers map[uuid.UUID]*model.TestPaper
	err    error
	calls  int
}

func (s *stubPaperStore) GetPaper(_ context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.papers[testID]
	if !ok {
		return nil, repository.ErrTestNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubPaperStore) ListPublishedIDs(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.papers))
	for id := range s.papers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *stubPaperStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// idleTicker never fires so sessions only move when tests drive them.
type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

func idleOptions() proctor.Options {
	return proctor.Options{
		NewTicker: func(time.Duration) proctor.Ticker { return idleTicker{} },
	}
}

type stubBinding struct {
	mu      sync.Mutex
	bound   bool
	notices []proctor.Notice
}

func (b *stubBinding) EnterFullscreen() error { return nil }
func (b *stubBinding) ExitFullscreen() error  { return nil }
func (b *stubBinding) LockViewport() error    { return nil }
func (b *stubBinding) RestoreViewport() error { return nil }

func (b *stubBinding) Notify(n proctor.Notice) {
	b.mu.Lock()
	b.notices = append(b.notices, n)
	b.mu.Unlock()
}

func (b *stubBinding) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

func (b *stubBinding) SetBound(v bool) {
	b.mu.Lock()
	b.bound = v
	b.mu.Unlock()
}

type recordingSink struct {
	mu      sync.Mutex
	results []*model.SubmissionResult
}

func (s *recordingSink) Submit(_ context.Context, res *model.SubmissionResult) error {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Results() []*model.SubmissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.SubmissionResult(nil), s.results...)
}
