package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type stubCheckpointStore struct {
	failBatch bool
	failQID   string
	rows      []*model.AnswerCheckpoint
}

func (s *stubCheckpointStore) UpsertBatch(_ context.Context, batch []*model.AnswerCheckpoint) error {
	if s.failBatch {
		return errors.New("batch failed")
	}
	s.rows = append(s.rows, batch...)
	return nil
}

func (s *stubCheckpointStore) Upsert(_ context.Context, cp *model.AnswerCheckpoint) error {
	if cp.QuestionID == s.failQID {
		return errors.New("row failed")
	}
	s.rows = append(s.rows, cp)
	return nil
}

func checkpointJSON(t *testing.T, qID string, choice int) string {
	t.Helper()
	data, err := json.Marshal(model.AnswerCheckpoint{
		TestID:     uuid.New(),
		StudentID:  4,
		QuestionID: qID,
		Choice:     &choice,
		SavedAt:    time.Now(),
	})
	require.NoError(t, err)
	return string(data)
}

func TestAutosaveWorkerDropsUnstorableItems(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &stubCheckpointStore{}
	w := NewAutosaveWorker(rdb, store, 10, zerolog.Nop())

	retry := w.flush(context.Background(), []string{
		checkpointJSON(t, uuid.NewString(), 1),
		checkpointJSON(t, "q1", 2),
		"[]",
	})
	require.Empty(t, retry)
	require.Len(t, store.rows, 1)
}

func TestAutosaveWorkerFallback(t *testing.T) {
	_, rdb := newTestRedis(t)
	badQID := uuid.NewString()
	store := &stubCheckpointStore{failBatch: true, failQID: badQID}
	w := NewAutosaveWorker(rdb, store, 10, zerolog.Nop())

	bad := checkpointJSON(t, badQID, 0)
	retry := w.flush(context.Background(), []string{checkpointJSON(t, uuid.NewString(), 1), bad})
	require.Equal(t, []string{bad}, retry)
	require.Len(t, store.rows, 1)
}
