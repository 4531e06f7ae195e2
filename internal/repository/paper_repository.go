package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrTestNotFound is returned when no published test has the requested ID.
var ErrTestNotFound = errors.New("test not found")

// PaperRepository reads tests and their questions.
type PaperRepository struct {
	pool *pgxpool.Pool
}

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(pool *pgxpool.Pool) *PaperRepository {
	return &PaperRepository{pool: pool}
}

// GetPaper loads a published test with its questions ordered by order_num.
func (r *PaperRepository) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	p := &model.TestPaper{TestID: testID}
	err := r.pool.QueryRow(ctx,
		`SELECT title, duration_seconds
		 FROM tests WHERE id = $1 AND status = 'PUBLISHED'`, testID,
	).Scan(&p.Title, &p.DurationSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, choices, marks, correct_choice, order_num
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num, id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.Question
			id      uuid.UUID
			choices []byte
		)
		if err := rows.Scan(&id, &q.Text, &choices, &q.Marks, &q.CorrectChoice, &q.OrderNum); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(choices, &q.Choices); err != nil {
			return nil, fmt.Errorf("decode choices of %s: %w", id, err)
		}
		q.ID = id.String()
		p.Questions = append(p.Questions, q)
	}
	return p, rows.Err()
}

// ListPublishedIDs returns the IDs of every published test.
func (r *PaperRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM tests WHERE status = 'PUBLISHED' ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreatePublished inserts a test and its questions in one transaction and
// publishes it. Question IDs are assigned by the database and written back
// into paper.
func (r *PaperRepository) CreatePublished(ctx context.Context, paper *model.TestPaper) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO tests (title, duration_seconds, status)
			 VALUES ($1, $2, 'PUBLISHED') RETURNING id`,
			paper.Title, paper.DurationSeconds,
		).Scan(&paper.TestID); err != nil {
			return fmt.Errorf("insert test: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range paper.Questions {
			q := &paper.Questions[i]
			choices, err := json.Marshal(q.Choices)
			if err != nil {
				return fmt.Errorf("encode choices: %w", err)
			}
			if q.OrderNum == 0 {
				q.OrderNum = i + 1
			}
			batch.Queue(
				`INSERT INTO questions (test_id, question_text, choices, correct_choice, marks, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				paper.TestID, q.Text, choices, q.CorrectChoice, q.Marks, q.OrderNum,
			).QueryRow(func(row pgx.Row) error {
				var id uuid.UUID
				if err := row.Scan(&id); err != nil {
					return err
				}
				q.ID = id.String()
				return nil
			})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
