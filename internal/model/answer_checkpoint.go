package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerCheckpoint is one autosaved ledger change. A nil Choice clears the answer.
type AnswerCheckpoint struct {
	TestID     uuid.UUID `json:"test_id"`
	StudentID  int       `json:"student_id"`
	QuestionID string    `json:"q_id"`
	Choice     *int      `json:"choice"`
	SavedAt    time.Time `json:"saved_at"`
}
