package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrAlreadySubmitted is returned when a student opens a test they already finished.
var ErrAlreadySubmitted = errors.New("test already submitted")

// SessionBinding is the client-side half of a session: the ambient surface
// it controls and the channel notices are rendered on. A binding outlives
// individual connections so a reconnecting client picks up where it left.
type SessionBinding interface {
	proctor.AmbientSurface
	proctor.Notifier
	Bound() bool
}

// SubmissionTracker knows which students finished or are sitting a test.
type SubmissionTracker interface {
	HasSubmitted(ctx context.Context, testID uuid.UUID, studentID int) (bool, error)
	QueuedResult(ctx context.Context, testID uuid.UUID, studentID int) (*model.SubmissionResult, error)
	MarkActive(ctx context.Context, testID uuid.UUID, studentID int, ttl time.Duration) error
}

// SessionHandle ties a live controller to its binding.
type SessionHandle struct {
	Controller *proctor.Controller
	Binding    SessionBinding
	TestID     uuid.UUID
	StudentID  int
}

// LiveSession is a point-in-time view of one running session.
type LiveSession struct {
	SessionID    uuid.UUID          `json:"session_id"`
	StudentID    int                `json:"student_id"`
	State        model.SessionState `json:"state"`
	Remaining    int                `json:"remaining"`
	WarningCount int                `json:"warning_count"`
	Answered     int                `json:"answered"`
	Degraded     bool               `json:"degraded"`
	Connected    bool               `json:"connected"`
}

// RegistryDeps are the shared collaborators of every session.
type RegistryDeps struct {
	Source         proctor.QuestionSource
	Sink           proctor.ResultSink
	Submissions    SubmissionTracker
	Feed           proctor.Notifier
	Options        proctor.Options
	ReconnectGrace time.Duration
	Log            zerolog.Logger
}

type sessionKey struct {
	testID    uuid.UUID
	studentID int
}

type registryEntry struct {
	handle *SessionHandle
	grace  *time.Timer
}

// SessionRegistry keeps one controller per student and test. Results of
// finalized sessions stay in finished for the life of the process, so a
// student whose submission is still in flight or failed to reach Redis
// cannot open a second attempt.
type SessionRegistry struct {
	mu       sync.Mutex
	deps     RegistryDeps
	sessions map[sessionKey]*registryEntry
	finished map[sessionKey]*model.SubmissionResult
	closed   bool
	log      zerolog.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(deps RegistryDeps) *SessionRegistry {
	if deps.ReconnectGrace <= 0 {
		deps.ReconnectGrace = time.Minute
	}
	return &SessionRegistry{
		deps:     deps,
		sessions: make(map[sessionKey]*registryEntry),
		finished: make(map[sessionKey]*model.SubmissionResult),
		log:      deps.Log.With().Str("component", "session_registry").Logger(),
	}
}

// Open returns the student's live session for the test, creating and
// loading a new one when none exists. resumed is true when an existing
// session was handed back; newBinding is only called for new sessions.
func (r *SessionRegistry) Open(ctx context.Context, testID uuid.UUID, studentID int, newBinding func() SessionBinding) (handle *SessionHandle, resumed bool, err error) {
	key := sessionKey{testID: testID, studentID: studentID}

	h, finished := r.resume(key)
	if h != nil {
		return h, true, nil
	}
	if finished {
		return nil, false, ErrAlreadySubmitted
	}

	if r.deps.Submissions != nil {
		done, err := r.deps.Submissions.HasSubmitted(ctx, testID, studentID)
		if err != nil {
			return nil, false, fmt.Errorf("check submission: %w", err)
		}
		if done {
			return nil, false, ErrAlreadySubmitted
		}
	}

	binding := newBinding()
	ctrl := proctor.NewController(
		proctor.SessionInfo{TestID: testID, StudentID: studentID},
		proctor.Deps{
			Surface:  binding,
			Notifier: proctor.MultiNotifier{binding, r.deps.Feed},
			Sink:     r.deps.Sink,
			Log:      r.deps.Log,
			Options:  r.deps.Options,
		},
	)
	if err := ctrl.Load(ctx, r.deps.Source); err != nil {
		return nil, false, err
	}

	handle = &SessionHandle{Controller: ctrl, Binding: binding, TestID: testID, StudentID: studentID}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ctrl.Close()
		return nil, false, proctor.ErrSessionClosed
	}
	if existing, ok := r.sessions[key]; ok {
		if existing.handle.Controller.State() != model.SessionStateExited {
			// Lost a race with a concurrent open of the same session.
			r.mu.Unlock()
			ctrl.Close()
			return existing.handle, true, nil
		}
		r.forgetLocked(key, existing.handle)
	}
	if _, done := r.finished[key]; done {
		r.mu.Unlock()
		ctrl.Close()
		return nil, false, ErrAlreadySubmitted
	}
	r.sessions[key] = &registryEntry{handle: handle}
	r.mu.Unlock()

	if r.deps.Submissions != nil {
		ttl := time.Duration(ctrl.Session().DurationSeconds)*time.Second + r.deps.ReconnectGrace
		if err := r.deps.Submissions.MarkActive(ctx, testID, studentID, ttl); err != nil {
			r.log.Warn().Err(err).Int("student_id", studentID).Msg("Failed to mark active test")
		}
	}

	r.log.Info().
		Str("test_id", testID.String()).
		Int("student_id", studentID).
		Str("session_id", ctrl.Session().ID.String()).
		Msg("Session opened")
	return handle, false, nil
}

// resume hands back a live session. finished reports that the student
// already has a finalized attempt held by this server.
func (r *SessionRegistry) resume(key sessionKey) (handle *SessionHandle, finished bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[key]
	if ok && entry.handle.Controller.State() == model.SessionStateExited {
		r.forgetLocked(key, entry.handle)
		ok = false
	}
	if !ok {
		_, finished = r.finished[key]
		return nil, finished
	}
	if entry.grace != nil {
		entry.grace.Stop()
		entry.grace = nil
	}
	return entry.handle, false
}

// forgetLocked drops the session and keeps its result, if it was finalized.
// The caller holds r.mu.
func (r *SessionRegistry) forgetLocked(key sessionKey, handle *SessionHandle) {
	delete(r.sessions, key)
	if res := handle.Controller.Result(); res != nil {
		r.finished[key] = res
	}
}

// PreviousResult returns the result of an earlier attempt, preferring the
// copy held by this server over the one queued in Redis. It returns nil when
// the result was already archived.
func (r *SessionRegistry) PreviousResult(ctx context.Context, testID uuid.UUID, studentID int) (*model.SubmissionResult, error) {
	r.mu.Lock()
	res, ok := r.finished[sessionKey{testID: testID, studentID: studentID}]
	r.mu.Unlock()
	if ok {
		return res, nil
	}
	if r.deps.Submissions == nil {
		return nil, nil
	}
	return r.deps.Submissions.QueuedResult(ctx, testID, studentID)
}

// Disconnected is called when the client of a session goes away. Sessions
// that have not finished get a grace period to reconnect before they are
// closed, which submits an active session.
func (r *SessionRegistry) Disconnected(handle *SessionHandle) {
	key := sessionKey{testID: handle.TestID, studentID: handle.StudentID}

	r.mu.Lock()
	entry, ok := r.sessions[key]
	if !ok || entry.handle != handle {
		r.mu.Unlock()
		return
	}

	switch handle.Controller.State() {
	case model.SessionStateInstructions, model.SessionStateActive, model.SessionStateSubmitting:
		if entry.grace != nil {
			entry.grace.Stop()
		}
		entry.grace = time.AfterFunc(r.deps.ReconnectGrace, func() { r.expire(key, handle) })
		r.mu.Unlock()
		return
	}

	r.forgetLocked(key, handle)
	r.mu.Unlock()
	handle.Controller.Close()
}

func (r *SessionRegistry) expire(key sessionKey, handle *SessionHandle) {
	if handle.Binding.Bound() {
		return
	}

	r.log.Warn().
		Str("test_id", key.testID.String()).
		Int("student_id", key.studentID).
		Msg("Client did not reconnect, closing session")

	// Close finalizes an active session before the entry goes, so a reopen
	// finds either the live session or its result.
	handle.Controller.Close()

	r.mu.Lock()
	if entry, ok := r.sessions[key]; ok && entry.handle == handle {
		r.forgetLocked(key, handle)
	}
	r.mu.Unlock()
}

// Release forgets a session that the student exited. Its result, if any,
// keeps blocking further attempts.
func (r *SessionRegistry) Release(handle *SessionHandle) {
	key := sessionKey{testID: handle.TestID, studentID: handle.StudentID}
	r.mu.Lock()
	if entry, ok := r.sessions[key]; ok && entry.handle == handle {
		if entry.grace != nil {
			entry.grace.Stop()
		}
		r.forgetLocked(key, handle)
	}
	r.mu.Unlock()
}

// Live lists the sessions of a test held by this server.
func (r *SessionRegistry) Live(testID uuid.UUID) []LiveSession {
	r.mu.Lock()
	handles := make([]*SessionHandle, 0, len(r.sessions))
	for key, entry := range r.sessions {
		if key.testID == testID {
			handles = append(handles, entry.handle)
		}
	}
	r.mu.Unlock()

	out := make([]LiveSession, 0, len(handles))
	for _, h := range handles {
		sess := h.Controller.Session()
		out = append(out, LiveSession{
			SessionID:    sess.ID,
			StudentID:    sess.StudentID,
			State:        sess.State,
			Remaining:    h.Controller.Remaining(),
			WarningCount: sess.WarningCount,
			Answered:     len(h.Controller.Snapshot().Answers),
			Degraded:     h.Controller.Degraded(),
			Connected:    h.Binding.Bound(),
		})
	}
	return out
}

// Len returns the number of sessions held.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every session, submitting the active ones, and waits
// until their results were handed to the sink or ctx expires.
func (r *SessionRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*SessionHandle, 0, len(r.sessions))
	for key, entry := range r.sessions {
		if entry.grace != nil {
			entry.grace.Stop()
		}
		handles = append(handles, entry.handle)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	r.log.Info().Int("count", len(handles)).Msg("Closing sessions")
	for _, h := range handles {
		h.Controller.Close()
	}
	for _, h := range handles {
		select {
		case <-h.Controller.Delivered():
		case <-ctx.Done():
			return fmt.Errorf("wait for submissions: %w", ctx.Err())
		}
	}
	return nil
}
