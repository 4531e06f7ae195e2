package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionSaver persists finalized sessions. SaveBatch is idempotent per
// session and reports how many rows were new.
type SubmissionSaver interface {
	SaveBatch(ctx context.Context, results []*model.SubmissionResult) (int, error)
}

// CheckpointCleaner drops the Redis autosave hashes of finished sessions.
type CheckpointCleaner interface {
	Clear(ctx context.Context, sessions ...model.SubmissionResult) error
}

// AnswerArchiver drops the autosave rows of finished sessions.
type AnswerArchiver interface {
	DeleteForStudents(ctx context.Context, testIDs []uuid.UUID, studentIDs []int) error
}

// SubmissionWorker consumes persist_submissions_queue and writes each
// SubmissionResult, with its answers and violation log, to PostgreSQL.
type SubmissionWorker struct {
	store       SubmissionSaver
	checkpoints CheckpointCleaner
	answers     AnswerArchiver
	consumer    *queueConsumer
	log         zerolog.Logger
}

// NewSubmissionWorker creates a new SubmissionWorker. checkpoints and
// answers may be nil.
func NewSubmissionWorker(rdb *redis.Client, store SubmissionSaver, checkpoints CheckpointCleaner, answers AnswerArchiver, batchSize int, log zerolog.Logger) *SubmissionWorker {
	log = log.With().Str("component", "submission_worker").Logger()
	return &SubmissionWorker{
		store:       store,
		checkpoints: checkpoints,
		answers:     answers,
		consumer:    newQueueConsumer(rdb, config.WorkerKey.PersistSubmissionsQueue, batchSize, log),
		log:         log,
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	w.consumer.run(ctx, w.flush)
	w.log.Info().Msg("Worker stopped")
}

func (w *SubmissionWorker) flush(ctx context.Context, raw []string) []string {
	batch := make([]*model.SubmissionResult, 0, len(raw))
	kept := make([]string, 0, len(raw))
	for _, item := range raw {
		var res model.SubmissionResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			w.log.Error().Err(err).Msg("Invalid JSON payload, dropping")
			continue
		}
		batch = append(batch, &res)
		kept = append(kept, item)
	}
	if len(batch) == 0 {
		return nil
	}

	inserted, err := w.store.SaveBatch(ctx, batch)
	if err == nil {
		w.log.Info().Int("batch", len(batch)).Int("inserted", inserted).Msg("Submissions persisted")
		w.cleanup(ctx, batch)
		return nil
	}

	w.log.Warn().Err(err).Int("batch", len(batch)).Msg("Batch insert failed, using fallback")

	var retry []string
	saved := make([]*model.SubmissionResult, 0, len(batch))
	for i, res := range batch {
		if _, err := w.store.SaveBatch(ctx, []*model.SubmissionResult{res}); err != nil {
			w.log.Error().Err(err).
				Str("session_id", res.SessionID.String()).
				Int("student_id", res.StudentID).
				Msg("Persist failed, requeueing")
			retry = append(retry, kept[i])
			continue
		}
		saved = append(saved, res)
	}
	w.cleanup(ctx, saved)
	return retry
}

// cleanup removes autosave state that the persisted submission supersedes.
// Failures only leave stale autosave data behind.
func (w *SubmissionWorker) cleanup(ctx context.Context, saved []*model.SubmissionResult) {
	if len(saved) == 0 {
		return
	}

	sessions := make([]model.SubmissionResult, len(saved))
	testIDs := make([]uuid.UUID, len(saved))
	studentIDs := make([]int, len(saved))
	for i, res := range saved {
		sessions[i] = *res
		testIDs[i] = res.TestID
		studentIDs[i] = res.StudentID
	}

	if w.checkpoints != nil {
		if err := w.checkpoints.Clear(ctx, sessions...); err != nil {
			w.log.Warn().Err(err).Msg("Failed to clear autosave hashes")
		}
	}
	if w.answers != nil {
		if err := w.answers.DeleteForStudents(ctx, testIDs, studentIDs); err != nil {
			w.log.Warn().Err(err).Msg("Failed to delete autosave rows")
		}
	}
}
