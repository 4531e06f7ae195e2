package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionRepository persists finalized sessions.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const insertSubmissionSQL = `
	INSERT INTO submissions (
		id, test_id, student_id, score, max_marks, time_taken_seconds, reason, verdict,
		warning_count, degraded, flagged, log_digest, started_at, submitted_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT DO NOTHING`

// SaveBatch writes every result with its answers and violation log in one
// transaction. Results already stored (same session, or same student and
// test) are skipped, so replaying a batch is harmless. It returns the
// number of newly stored submissions.
func (r *SubmissionRepository) SaveBatch(ctx context.Context, results []*model.SubmissionResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, res := range results {
		flagged, err := json.Marshal(res.Flagged)
		if err != nil {
			return 0, fmt.Errorf("marshal flags: %w", err)
		}
		batch.Queue(insertSubmissionSQL,
			res.SessionID, res.TestID, res.StudentID, res.Score, res.MaxMarks, res.TimeTakenSeconds,
			string(res.Reason), string(res.SecurityReport.Verdict), res.SecurityReport.WarningCount,
			res.SecurityReport.Degraded, flagged, res.SecurityReport.LogDigest, res.StartedAt, res.SubmittedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	fresh := make([]*model.SubmissionResult, 0, len(results))
	for _, res := range results {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert submission %s: %w", res.SessionID, err)
		}
		if tag.RowsAffected() == 1 {
			fresh = append(fresh, res)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	answerRows, violationRows, err := detailRows(fresh)
	if err != nil {
		return 0, err
	}

	if len(answerRows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"submission_answers"},
			[]string{"submission_id", "question_id", "choice"},
			pgx.CopyFromRows(answerRows),
		); err != nil {
			return 0, fmt.Errorf("copy answers: %w", err)
		}
	}

	if len(violationRows) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"session_violations"},
			[]string{"submission_id", "test_id", "student_id", "kind", "detail", "occurred_at"},
			pgx.CopyFromRows(violationRows),
		); err != nil {
			return 0, fmt.Errorf("copy violations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(fresh), nil
}

func detailRows(results []*model.SubmissionResult) (answers, violations [][]any, err error) {
	for _, res := range results {
		for qID, choice := range res.Answers {
			questionID, err := uuid.Parse(qID)
			if err != nil {
				return nil, nil, fmt.Errorf("submission %s: question id %q: %w", res.SessionID, qID, err)
			}
			answers = append(answers, []any{res.SessionID, questionID, choice})
		}
		for _, ev := range res.SecurityReport.Events {
			violations = append(violations, []any{
				res.SessionID, res.TestID, res.StudentID, string(ev.Kind), ev.Detail, ev.Timestamp,
			})
		}
	}
	return answers, violations, nil
}

// Exists reports whether a submission for the student and test is stored.
func (r *SubmissionRepository) Exists(ctx context.Context, testID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE test_id = $1 AND student_id = $2)`,
		testID, studentID,
	).Scan(&exists)
	return exists, err
}
