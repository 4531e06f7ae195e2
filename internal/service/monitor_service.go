package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorStore is the persisted side of the live monitor.
type MonitorStore interface {
	GetAnsweredCounts(ctx context.Context, testID uuid.UUID) (map[int]int64, error)
	ListSubmissions(ctx context.Context, testID uuid.UUID) ([]repository.SubmissionSummary, error)
}

// MonitorSnapshot is the initial state an admin monitor renders before it
// starts following the live feed.
type MonitorSnapshot struct {
	TestID         uuid.UUID                      `json:"test_id"`
	Live           []LiveSession                  `json:"live"`
	Submissions    []repository.SubmissionSummary `json:"submissions"`
	AnsweredCounts map[int]int64                  `json:"answered_counts"`
}

// MonitorService orchestrates live test monitoring.
type MonitorService struct {
	store    MonitorStore
	registry *SessionRegistry
	log      zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store MonitorStore, registry *SessionRegistry, log zerolog.Logger) *MonitorService {
	return &MonitorService{store: store, registry: registry, log: log}
}

// Snapshot returns the sessions held in memory together with the persisted
// submissions and autosave progress. The two store queries run concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, testID uuid.UUID) (*MonitorSnapshot, error) {
	snapshot := &MonitorSnapshot{
		TestID:         testID,
		Live:           []LiveSession{},
		Submissions:    []repository.SubmissionSummary{},
		AnsweredCounts: map[int]int64{},
	}
	if s.registry != nil {
		snapshot.Live = s.registry.Live(testID)
	}

	var (
		answered    map[int]int64
		submissions []repository.SubmissionSummary
		answeredErr error
		submitErr   error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		answered, answeredErr = s.store.GetAnsweredCounts(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		submissions, submitErr = s.store.ListSubmissions(ctx, testID)
	}()
	wg.Wait()

	// Submissions are critical; autosave progress is best-effort.
	if submitErr != nil {
		return nil, submitErr
	}
	if submissions != nil {
		snapshot.Submissions = submissions
	}
	if answeredErr != nil {
		s.log.Warn().Err(answeredErr).Str("test_id", testID.String()).Msg("Failed to load answered counts")
	} else if answered != nil {
		snapshot.AnsweredCounts = answered
	}

	return snapshot, nil
}

// Live returns only the in-memory sessions, for cheap periodic refreshes.
func (s *MonitorService) Live(testID uuid.UUID) []LiveSession {
	if s.registry == nil {
		return []LiveSession{}
	}
	return s.registry.Live(testID)
}
