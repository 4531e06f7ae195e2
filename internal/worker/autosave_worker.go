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

// CheckpointStore upserts autosaved answers.
type CheckpointStore interface {
	UpsertBatch(ctx context.Context, batch []*model.AnswerCheckpoint) error
	Upsert(ctx context.Context, cp *model.AnswerCheckpoint) error
}

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	store    CheckpointStore
	consumer *queueConsumer
	log      zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(rdb *redis.Client, store CheckpointStore, batchSize int, log zerolog.Logger) *AutosaveWorker {
	log = log.With().Str("component", "autosave_worker").Logger()
	return &AutosaveWorker{
		store:    store,
		consumer: newQueueConsumer(rdb, config.WorkerKey.PersistAnswersQueue, batchSize, log),
		log:      log,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	w.consumer.run(ctx, w.flush)
	w.log.Info().Msg("Worker stopped")
}

func (w *AutosaveWorker) flush(ctx context.Context, raw []string) []string {
	batch := make([]*model.AnswerCheckpoint, 0, len(raw))
	kept := make([]string, 0, len(raw))
	for _, item := range raw {
		var cp model.AnswerCheckpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			w.log.Error().Err(err).Msg("Invalid JSON payload, dropping")
			continue
		}
		// Question IDs are UUID columns; anything else can never be stored.
		if _, err := uuid.Parse(cp.QuestionID); err != nil {
			w.log.Error().Str("q_id", cp.QuestionID).Msg("Invalid question ID, dropping")
			continue
		}
		batch = append(batch, &cp)
		kept = append(kept, item)
	}
	if len(batch) == 0 {
		return nil
	}

	err := w.store.UpsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("batch", len(batch)).Msg("Answers persisted")
		return nil
	}
	w.log.Warn().Err(err).Int("batch", len(batch)).Msg("Bulk upsert failed, using fallback")

	var retry []string
	for i, cp := range batch {
		if err := w.store.Upsert(ctx, cp); err != nil {
			w.log.Error().Err(err).
				Int("student_id", cp.StudentID).
				Str("test_id", cp.TestID.String()).
				Msg("Persist error, requeueing")
			retry = append(retry, kept[i])
		}
	}
	return retry
}
