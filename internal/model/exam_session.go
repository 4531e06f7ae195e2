package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates the states of a proctored session.
type SessionState string

const (
	SessionStateIdle         SessionState = "IDLE"
	SessionStateInstructions SessionState = "INSTRUCTIONS"
	SessionStateActive       SessionState = "ACTIVE"
	SessionStateSubmitting   SessionState = "SUBMITTING"
	SessionStateSubmitted    SessionState = "SUBMITTED"
	SessionStateExited       SessionState = "EXITED"
	SessionStateUnavailable  SessionState = "UNAVAILABLE"
)

// Terminal reports whether no transition may leave the state.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateSubmitted, SessionStateExited, SessionStateUnavailable:
		return true
	}
	return false
}

// Session identifies one student's attempt at a test.
type Session struct {
	ID              uuid.UUID    `json:"id"`
	TestID          uuid.UUID    `json:"test_id"`
	StudentID       int          `json:"student_id"`
	StartedAt       time.Time    `json:"started_at"`
	DurationSeconds int          `json:"duration_seconds"`
	State           SessionState `json:"state"`
	WarningCount    int          `json:"warning_count"`
}

// StartedAtEpochMs returns the start time in epoch milliseconds, zero if not started.
func (s Session) StartedAtEpochMs() int64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.StartedAt.UnixMilli()
}
