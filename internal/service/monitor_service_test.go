package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/repository"
)

type stubMonitorStore struct {
	answered    map[int]int64
	answeredErr error
	submissions []repository.SubmissionSummary
	submitErr   error
}

func (s stubMonitorStore) GetAnsweredCounts(context.Context, uuid.UUID) (map[int]int64, error) {
	return s.answered, s.answeredErr
}

func (s stubMonitorStore) ListSubmissions(context.Context, uuid.UUID) ([]repository.SubmissionSummary, error) {
	return s.submissions, s.submitErr
}

func TestMonitorServiceSnapshot(t *testing.T) {
	f := newRegistryFixture(t, time.Minute)
	f.open(t, 1, &stubBinding{})

	store := stubMonitorStore{
		answered:    map[int]int64{1: 3},
		submissions: []repository.SubmissionSummary{{StudentID: 2, Score: 5}},
	}
	svc := NewMonitorService(store, f.registry, zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), f.testID)
	require.NoError(t, err)
	require.Len(t, snap.Live, 1)
	require.Len(t, snap.Submissions, 1)
	require.Equal(t, int64(3), snap.AnsweredCounts[1])
}

func TestMonitorServiceAnsweredCountsBestEffort(t *testing.T) {
	svc := NewMonitorService(stubMonitorStore{answeredErr: errors.New("timeout")}, nil, zerolog.Nop())

	snap, err := svc.Snapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, snap.AnsweredCounts)
	require.NotNil(t, snap.Submissions)
	require.NotNil(t, snap.Live)
}

func TestMonitorServiceSubmissionsRequired(t *testing.T) {
	svc := NewMonitorService(stubMonitorStore{submitErr: errors.New("down")}, nil, zerolog.Nop())

	_, err := svc.Snapshot(context.Background(), uuid.New())
	require.Error(t, err)
}
