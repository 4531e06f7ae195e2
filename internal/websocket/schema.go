package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHello    Action = "hello"
	ActionStart    Action = "start"
	ActionSelect   Action = "select"
	ActionClear    Action = "clear"
	ActionFlag     Action = "flag"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionEvent    Action = "event"
	ActionExit     Action = "exit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// HelloRequest describes the client's browser. It must precede start.
type HelloRequest struct {
	Action  Action                `json:"action"`
	Profile proctor.ClientProfile `json:"profile"`
}

// SelectRequest records an answer.
type SelectRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id" binding:"required,max=64"`
	Choice *int   `json:"choice" binding:"required,min=0"`
}

// QuestionRequest targets a single question: clear and flag.
type QuestionRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id" binding:"required,max=64"`
}

// NavigateRequest moves the current question pointer.
type NavigateRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// EventRequest forwards a raw platform event for classification.
type EventRequest struct {
	Action Action           `json:"action"`
	Raw    proctor.RawEvent `json:"raw"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventPaper            Event = "paper"
	EventState            Event = "state"
	EventTick             Event = "tick"
	EventWarning          Event = "warning"
	EventForceSubmit      Event = "force_submit"
	EventDegraded         Event = "degraded"
	EventSubmitted        Event = "submitted"
	EventSubmissionFailed Event = "submission_failed"
	EventSurface          Event = "surface"
	EventOutcome          Event = "outcome"
	EventAck              Event = "ack"
	EventError            Event = "error"
	EventPong             Event = "pong"
	EventUnavailable      Event = "unavailable"
)

// SurfaceCommand is an instruction for the client to change its ambient state.
type SurfaceCommand string

const (
	SurfaceEnterFullscreen SurfaceCommand = "enter_fullscreen"
	SurfaceExitFullscreen  SurfaceCommand = "exit_fullscreen"
	SurfaceLockViewport    SurfaceCommand = "lock_viewport"
	SurfaceRestoreViewport SurfaceCommand = "restore_viewport"
)

// PaperResponse is sent once the session is loaded, and again on reconnect.
type PaperResponse struct {
	Event     Event              `json:"event"`
	SessionID string             `json:"session_id"`
	State     model.SessionState `json:"state"`
	Paper     model.PaperPayload `json:"paper"`
	Current   int                `json:"current"`
	Remaining int                `json:"remaining"`
	Answers   map[string]int     `json:"answers"`
	Flags     []string           `json:"flags"`
	Resumed   bool               `json:"resumed"`
}

type StateResponse struct {
	Event Event              `json:"event"`
	State model.SessionState `json:"state"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

// WarningResponse carries the modal shown after a non-final strike.
type WarningResponse struct {
	Event        Event               `json:"event"`
	Kind         model.ViolationKind `json:"kind"`
	Message      string              `json:"message"`
	WarningCount int                 `json:"warning_count"`
	Remaining    int                 `json:"remaining"`
	DismissMs    int64               `json:"dismiss_ms"`
}

type ForceSubmitResponse struct {
	Event   Event               `json:"event"`
	Kind    model.ViolationKind `json:"kind"`
	Message string              `json:"message"`
}

type DegradedResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// SubmittedResponse reports the final result. The security report is kept
// server-side; students only see their score.
type SubmittedResponse struct {
	Event            Event              `json:"event"`
	Reason           model.SubmitReason `json:"reason"`
	Score            float64            `json:"score"`
	MaxMarks         float64            `json:"max_marks"`
	TimeTakenSeconds int                `json:"time_taken_seconds"`
	Verdict          model.Verdict      `json:"verdict"`
}

type SubmissionFailedResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type SurfaceResponse struct {
	Event   Event          `json:"event"`
	Command SurfaceCommand `json:"command"`
}

// OutcomeResponse tells the client whether to cancel the default action of
// the raw event it just reported.
type OutcomeResponse struct {
	Event   Event `json:"event"`
	Prevent bool  `json:"prevent"`
}

// AckResponse confirms a ledger or navigation action.
type AckResponse struct {
	Event   Event  `json:"event"`
	Action  Action `json:"action"`
	QID     string `json:"q_id,omitempty"`
	Flagged *bool  `json:"flagged,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

type UnavailableResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
