package proctor

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// NoticeKind identifies what a Notice tells the UI.
type NoticeKind string

const (
	NoticeState            NoticeKind = "state"
	NoticeTick             NoticeKind = "tick"
	NoticeViolation        NoticeKind = "violation"
	NoticeWarning          NoticeKind = "warning"
	NoticeForceSubmit      NoticeKind = "force_submit"
	NoticeDegraded         NoticeKind = "degraded"
	NoticeSubmitted        NoticeKind = "submitted"
	NoticeSubmissionFailed NoticeKind = "submission_failed"
	NoticeUnavailable      NoticeKind = "unavailable"
)

// Notice is a message from a Controller to whoever renders the session.
type Notice struct {
	Kind      NoticeKind              `json:"kind"`
	SessionID uuid.UUID               `json:"session_id"`
	TestID    uuid.UUID               `json:"test_id"`
	StudentID int                     `json:"student_id"`
	State     model.SessionState      `json:"state,omitempty"`
	Remaining int                     `json:"remaining,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Decision  *Decision               `json:"decision,omitempty"`
	Violation *model.ViolationEvent   `json:"violation,omitempty"`
	Result    *model.SubmissionResult `json:"result,omitempty"`
	At        time.Time               `json:"at"`
}

// Notifier receives controller notices. Notify is called with the
// controller's lock held and must not block.
type Notifier interface {
	Notify(n Notice)
}

// MultiNotifier fans a notice out to several notifiers in order.
type MultiNotifier []Notifier

// Notify forwards n to every non-nil notifier.
func (m MultiNotifier) Notify(n Notice) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(n)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

type nopSurface struct{}

func (nopSurface) EnterFullscreen() error { return nil }
func (nopSurface) ExitFullscreen() error  { return nil }
func (nopSurface) LockViewport() error    { return nil }
func (nopSurface) RestoreViewport() error { return nil }
