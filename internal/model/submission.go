package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the coarse integrity verdict attached to a submission.
type Verdict string

const (
	VerdictHigh        Verdict = "HIGH"
	VerdictCompromised Verdict = "COMPROMISED"
)

// SubmitReason records which trigger finalized the session.
type SubmitReason string

const (
	SubmitReasonManual         SubmitReason = "manual"
	SubmitReasonTimeExpired    SubmitReason = "time_expired"
	SubmitReasonViolationLimit SubmitReason = "violation_limit"
	SubmitReasonSessionClosed  SubmitReason = "session_closed"
)

// SecurityReport summarizes the violation log at submission time.
type SecurityReport struct {
	Counts          map[ViolationKind]int `json:"counts"`
	TotalViolations int                   `json:"total_violations"`
	WarningCount    int                   `json:"warning_count"`
	Verdict         Verdict               `json:"verdict"`
	Degraded        bool                  `json:"degraded"`
	Events          []ViolationEvent      `json:"events"`
	LogDigest       string                `json:"log_digest"`
}

// SubmissionResult is the single, immutable outcome of a session.
type SubmissionResult struct {
	SessionID        uuid.UUID      `json:"session_id"`
	TestID           uuid.UUID      `json:"test_id"`
	StudentID        int            `json:"student_id"`
	Answers          map[string]int `json:"answers"`
	Flagged          []string       `json:"flagged"`
	TimeTakenSeconds int            `json:"time_taken_seconds"`
	SecurityReport   SecurityReport `json:"security_report"`
	Score            float64        `json:"score"`
	MaxMarks         float64        `json:"max_marks"`
	Reason           SubmitReason   `json:"reason"`
	StartedAt        time.Time      `json:"started_at"`
	SubmittedAt      time.Time      `json:"submitted_at"`
}
