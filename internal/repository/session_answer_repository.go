package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionAnswerRepository stores autosaved answers of sessions still running.
type SessionAnswerRepository struct {
	pool *pgxpool.Pool
}

// NewSessionAnswerRepository creates a new SessionAnswerRepository.
func NewSessionAnswerRepository(pool *pgxpool.Pool) *SessionAnswerRepository {
	return &SessionAnswerRepository{pool: pool}
}

// UpsertBatch writes a batch of checkpoints with a single UNNEST statement.
// Later checkpoints for the same question win. Checkpoints of students who
// already have a submission are skipped, so a late batch cannot bring back
// rows the submission worker cleaned up.
func (r *SessionAnswerRepository) UpsertBatch(ctx context.Context, batch []*model.AnswerCheckpoint) error {
	latest := make(map[[3]string]*model.AnswerCheckpoint, len(batch))
	order := make([][3]string, 0, len(batch))
	for _, cp := range batch {
		k := [3]string{cp.TestID.String(), fmt.Sprint(cp.StudentID), cp.QuestionID}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = cp
	}

	n := len(order)
	testIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	questionIDs := make([]uuid.UUID, 0, n)
	choices := make([]*int, 0, n)
	savedAts := make([]time.Time, 0, n)

	for _, k := range order {
		cp := latest[k]
		qID, err := uuid.Parse(cp.QuestionID)
		if err != nil {
			return fmt.Errorf("question id %q: %w", cp.QuestionID, err)
		}
		testIDs = append(testIDs, cp.TestID)
		students = append(students, cp.StudentID)
		questionIDs = append(questionIDs, qID)
		choices = append(choices, cp.Choice)
		savedAts = append(savedAts, cp.SavedAt)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_answers (test_id, student_id, question_id, choice, updated_at)
		SELECT u.test_id, u.student_id, u.question_id, u.choice, u.updated_at
		FROM UNNEST($1::uuid[], $2::int[], $3::uuid[], $4::int[], $5::timestamptz[])
			AS u(test_id, student_id, question_id, choice, updated_at)
		WHERE NOT EXISTS (
			SELECT 1 FROM submissions s
			WHERE s.test_id = u.test_id AND s.student_id = u.student_id
		)
		ON CONFLICT (test_id, student_id, question_id) DO UPDATE
		SET choice = EXCLUDED.choice, updated_at = EXCLUDED.updated_at
		WHERE session_answers.updated_at <= EXCLUDED.updated_at`,
		testIDs, students, questionIDs, choices, savedAts,
	)
	return err
}

// Upsert writes one checkpoint unless the student already submitted.
func (r *SessionAnswerRepository) Upsert(ctx context.Context, cp *model.AnswerCheckpoint) error {
	qID, err := uuid.Parse(cp.QuestionID)
	if err != nil {
		return fmt.Errorf("question id %q: %w", cp.QuestionID, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_answers (test_id, student_id, question_id, choice, updated_at)
		 SELECT $1::uuid, $2::int, $3::uuid, $4::int, $5::timestamptz
		 WHERE NOT EXISTS (
			SELECT 1 FROM submissions WHERE test_id = $1::uuid AND student_id = $2::int
		 )
		 ON CONFLICT (test_id, student_id, question_id) DO UPDATE
		 SET choice = EXCLUDED.choice, updated_at = EXCLUDED.updated_at
		 WHERE session_answers.updated_at <= EXCLUDED.updated_at`,
		cp.TestID, cp.StudentID, qID, cp.Choice, cp.SavedAt,
	)
	return err
}

// DeleteForStudents removes the autosave rows of finalized sessions.
func (r *SessionAnswerRepository) DeleteForStudents(ctx context.Context, testIDs []uuid.UUID, studentIDs []int) error {
	if len(testIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		DELETE FROM session_answers sa
		USING UNNEST($1::uuid[], $2::int[]) AS f(test_id, student_id)
		WHERE sa.test_id = f.test_id AND sa.student_id = f.student_id`,
		testIDs, studentIDs,
	)
	return err
}
