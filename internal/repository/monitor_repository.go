package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubmissionSummary is one finalized session as shown on the live monitor.
type SubmissionSummary struct {
	StudentID      int       `json:"student_id"`
	Score          float64   `json:"score"`
	MaxMarks       float64   `json:"max_marks"`
	Verdict        string    `json:"verdict"`
	Reason         string    `json:"reason"`
	WarningCount   int       `json:"warning_count"`
	Degraded       bool      `json:"degraded"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ViolationCount int64     `json:"violation_count"`
}

// MonitorRepository provides data access for the live proctoring monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetAnsweredCounts returns the number of answered questions per student for
// sessions still autosaving in the given test.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, testID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM session_answers
		 WHERE test_id = $1 AND choice IS NOT NULL
		 GROUP BY student_id`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		result[sid] = count
	}
	return result, rows.Err()
}

// ListSubmissions returns every finalized session of the test with its violation count.
func (r *MonitorRepository) ListSubmissions(ctx context.Context, testID uuid.UUID) ([]SubmissionSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.student_id, s.score, s.max_marks, s.verdict, s.reason, s.warning_count,
		        s.degraded, s.submitted_at, COUNT(v.id)
		 FROM submissions s
		 LEFT JOIN session_violations v ON v.submission_id = s.id
		 WHERE s.test_id = $1
		 GROUP BY s.id
		 ORDER BY s.submitted_at`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmissionSummary
	for rows.Next() {
		var s SubmissionSummary
		if err := rows.Scan(&s.StudentID, &s.Score, &s.MaxMarks, &s.Verdict, &s.Reason,
			&s.WarningCount, &s.Degraded, &s.SubmittedAt, &s.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
