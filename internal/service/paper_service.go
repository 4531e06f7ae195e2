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
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// PaperStore is the durable source of test papers.
type PaperStore interface {
	GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error)
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PaperService serves test papers from Redis, falling back to PostgreSQL on a miss.
type PaperService struct {
	store PaperStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewPaperService creates a new PaperService. A zero ttl keeps cached papers forever.
func NewPaperService(store PaperStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *PaperService {
	return &PaperService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "paper_service").Logger(),
	}
}

// LoadQuestions returns the full paper, answer key included. Unknown or
// malformed test IDs are reported as proctor.ErrPaperUnavailable.
func (s *PaperService) LoadQuestions(ctx context.Context, testID string) (*model.TestPaper, error) {
	id, err := uuid.Parse(testID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid test id", proctor.ErrPaperUnavailable)
	}

	if paper, ok := s.cached(ctx, id); ok {
		return paper, nil
	}

	paper, err := s.store.GetPaper(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTestNotFound) {
			return nil, fmt.Errorf("%w: %v", proctor.ErrPaperUnavailable, err)
		}
		return nil, fmt.Errorf("load paper: %w", err)
	}

	if len(paper.Questions) > 0 {
		if err := s.put(ctx, paper); err != nil {
			s.log.Warn().Err(err).Str("test_id", testID).Msg("Failed to cache paper")
		}
	}
	return paper, nil
}

// StudentPaper returns the student-facing projection of a test.
func (s *PaperService) StudentPaper(ctx context.Context, testID uuid.UUID) (*model.PaperPayload, error) {
	paper, err := s.LoadQuestions(ctx, testID.String())
	if err != nil {
		return nil, err
	}
	if len(paper.Questions) == 0 {
		return nil, fmt.Errorf("%w: test has no questions", proctor.ErrPaperUnavailable)
	}
	payload := paper.Payload()
	return &payload, nil
}

// Warm loads one test from PostgreSQL into Redis.
func (s *PaperService) Warm(ctx context.Context, testID uuid.UUID) error {
	paper, err := s.store.GetPaper(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrTestNotFound) {
			return fmt.Errorf("%w: %v", proctor.ErrPaperUnavailable, err)
		}
		return fmt.Errorf("load paper: %w", err)
	}
	if len(paper.Questions) == 0 {
		return fmt.Errorf("%w: test has no questions", proctor.ErrPaperUnavailable)
	}
	if err := s.put(ctx, paper); err != nil {
		return err
	}

	s.log.Debug().
		Str("test_id", testID.String()).
		Int("questions", len(paper.Questions)).
		Msg("Cache warmed")
	return nil
}

// Prewarm loads every published test into Redis on application startup so
// the first wave of students does not stampede PostgreSQL.
func (s *PaperService) Prewarm(ctx context.Context) error {
	ids, err := s.store.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published tests: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No published tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published tests...")

	warmed := 0
	for _, id := range ids {
		if err := s.Warm(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("test_id", id.String()).
				Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// Invalidate drops the cached paper of a test.
func (s *PaperService) Invalidate(ctx context.Context, testID uuid.UUID) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.TestPaperKey(testID.String())).Err()
}

func (s *PaperService) cached(ctx context.Context, testID uuid.UUID) (*model.TestPaper, bool) {
	if s.rdb == nil {
		return nil, false
	}

	data, err := s.rdb.Get(ctx, config.CacheKey.TestPaperKey(testID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Paper cache read failed, using database")
		}
		return nil, false
	}

	var paper model.TestPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Discarding corrupt cached paper")
		return nil, false
	}
	return &paper, true
}

func (s *PaperService) put(ctx context.Context, paper *model.TestPaper) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.TestPaperKey(paper.TestID.String()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}
