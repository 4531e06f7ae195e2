package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// resultRetention bounds how long a finalized result stays readable in Redis
// after the worker has had every chance to persist it.
const resultRetention = 24 * time.Hour

// SubmissionStore answers whether a submission was persisted.
type SubmissionStore interface {
	Exists(ctx context.Context, testID uuid.UUID, studentID int) (bool, error)
}

// QueueSink hands finalized results to the submission worker through Redis.
type QueueSink struct {
	rdb   *redis.Client
	store SubmissionStore
	log   zerolog.Logger
}

// NewQueueSink creates a new QueueSink. store may be nil.
func NewQueueSink(rdb *redis.Client, store SubmissionStore, log zerolog.Logger) *QueueSink {
	return &QueueSink{
		rdb:   rdb,
		store: store,
		log:   log.With().Str("component", "queue_sink").Logger(),
	}
}

// Submit records the result under the student's result key and queues it
// for persistence in one round trip.
func (s *QueueSink) Submit(ctx context.Context, result *model.SubmissionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	testID := result.TestID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionResultKey(testID, result.StudentID), data, resultRetention)
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, data)
	pipe.Del(ctx, config.CacheKey.StudentActiveTestKey(result.StudentID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}

	s.log.Debug().
		Str("session_id", result.SessionID.String()).
		Int("student_id", result.StudentID).
		Msg("Submission queued")
	return nil
}

// HasSubmitted reports whether the student already finalized the test,
// checking the queued result first and the database second.
func (s *QueueSink) HasSubmitted(ctx context.Context, testID uuid.UUID, studentID int) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.SessionResultKey(testID.String(), studentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check queued result: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if s.store == nil {
		return false, nil
	}
	return s.store.Exists(ctx, testID, studentID)
}

// QueuedResult returns the result still held in Redis, if any.
func (s *QueueSink) QueuedResult(ctx context.Context, testID uuid.UUID, studentID int) (*model.SubmissionResult, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.SessionResultKey(testID.String(), studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get queued result: %w", err)
	}

	var res model.SubmissionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// MarkActive records which test a student is sitting.
func (s *QueueSink) MarkActive(ctx context.Context, testID uuid.UUID, studentID int, ttl time.Duration) error {
	return s.rdb.Set(ctx, config.CacheKey.StudentActiveTestKey(studentID), testID.String(), ttl).Err()
}
