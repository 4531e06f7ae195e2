package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerCheckpoint autosaves ledger changes: the latest state goes into a
// Redis hash and every change is queued for the autosave worker.
type AnswerCheckpoint struct {
	rdb *redis.Client
	now func() time.Time
	log zerolog.Logger
}

// NewAnswerCheckpoint creates a new AnswerCheckpoint.
func NewAnswerCheckpoint(rdb *redis.Client, log zerolog.Logger) *AnswerCheckpoint {
	return &AnswerCheckpoint{
		rdb: rdb,
		now: time.Now,
		log: log.With().Str("component", "answer_checkpoint").Logger(),
	}
}

// Save records the current choice for a question. A nil choice clears it.
func (s *AnswerCheckpoint) Save(ctx context.Context, testID uuid.UUID, studentID int, questionID string, choice *int) error {
	cp := model.AnswerCheckpoint{
		TestID:     testID,
		StudentID:  studentID,
		QuestionID: questionID,
		Choice:     choice,
		SavedAt:    s.now(),
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := config.CacheKey.SessionAnswersKey(testID.String(), studentID)
	pipe := s.rdb.Pipeline()
	if choice != nil {
		pipe.HSet(ctx, key, questionID, strconv.Itoa(*choice))
	} else {
		pipe.HDel(ctx, key, questionID)
	}
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	return nil
}

// Answers returns the autosaved answers of a session.
func (s *AnswerCheckpoint) Answers(ctx context.Context, testID uuid.UUID, studentID int) (map[string]int, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(testID.String(), studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read autosave: %w", err)
	}

	out := make(map[string]int, len(raw))
	for q, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.log.Warn().Str("q_id", q).Str("value", v).Msg("Skipping malformed autosaved answer")
			continue
		}
		out[q] = n
	}
	return out, nil
}

// Clear removes the autosave hashes of finalized sessions.
func (s *AnswerCheckpoint) Clear(ctx context.Context, sessions ...model.SubmissionResult) error {
	if len(sessions) == 0 {
		return nil
	}
	keys := make([]string, len(sessions))
	for i, res := range sessions {
		keys[i] = config.CacheKey.SessionAnswersKey(res.TestID.String(), res.StudentID)
	}
	return s.rdb.Del(ctx, keys...).Err()
}
