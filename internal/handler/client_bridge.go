package handler

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const outboxSize = 64

var errOutboxFull = errors.New("client outbox full")

// connWriter owns the write side of one WebSocket. Messages are queued and
// written by a single goroutine so callers never block on the network.
type connWriter struct {
	conn      *websocket.Conn
	out       chan interface{}
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newConnWriter(conn *websocket.Conn, log zerolog.Logger) *connWriter {
	cw := &connWriter{
		conn: conn,
		out:  make(chan interface{}, outboxSize),
		done: make(chan struct{}),
		log:  log,
	}
	go cw.run()
	return cw
}

func (cw *connWriter) run() {
	for {
		select {
		case <-cw.done:
			return
		case msg := <-cw.out:
			if err := ws.WriteTyped(cw.conn, msg); err != nil {
				cw.log.Debug().Err(err).Msg("Write failed, closing connection")
				cw.close()
				return
			}
		}
	}
}

// send queues msg. A client too slow to drain its outbox is disconnected;
// it gets the full state again when it reconnects.
func (cw *connWriter) send(msg interface{}) error {
	select {
	case <-cw.done:
		return proctor.ErrSurfaceUnbound
	default:
	}
	select {
	case cw.out <- msg:
		return nil
	default:
		cw.log.Warn().Msg("Client outbox full, dropping connection")
		cw.close()
		return errOutboxFull
	}
}

// flush writes whatever is still queued, then closes with the given code.
func (cw *connWriter) flushAndClose(code int, reason string) {
	cw.closeOnce.Do(func() {
		close(cw.done)
		for {
			select {
			case msg := <-cw.out:
				if err := ws.WriteTyped(cw.conn, msg); err != nil {
					cw.conn.Close()
					return
				}
			default:
				ws.CloseWith(cw.conn, code, reason)
				cw.conn.Close()
				return
			}
		}
	})
}

func (cw *connWriter) close() {
	cw.closeOnce.Do(func() {
		close(cw.done)
		cw.conn.Close()
	})
}

// clientBridge is the server-side stand-in for a student's browser. It
// implements the session's AmbientSurface and Notifier by sending commands
// and events to whichever connection is currently bound, so a reconnecting
// client takes over the same session.
type clientBridge struct {
	mu      sync.Mutex
	current *connWriter
	log     zerolog.Logger
}

func newClientBridge(log zerolog.Logger) *clientBridge {
	return &clientBridge{log: log}
}

// Bind makes cw the live connection. A previously bound connection is
// closed; the newest tab wins.
func (b *clientBridge) Bind(cw *connWriter) {
	b.mu.Lock()
	prev := b.current
	b.current = cw
	b.mu.Unlock()

	if prev != nil && prev != cw {
		b.log.Info().Msg("Session taken over by a new connection")
		go prev.flushAndClose(websocket.ClosePolicyViolation, "session opened elsewhere")
	}
}

// Unbind detaches cw if it is still the live connection.
func (b *clientBridge) Unbind(cw *connWriter) {
	b.mu.Lock()
	if b.current == cw {
		b.current = nil
	}
	b.mu.Unlock()
}

// Bound reports whether a connection is attached.
func (b *clientBridge) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

func (b *clientBridge) send(msg interface{}) error {
	b.mu.Lock()
	cw := b.current
	b.mu.Unlock()
	if cw == nil {
		return proctor.ErrSurfaceUnbound
	}
	return cw.send(msg)
}

// ─── AmbientSurface ─────────────────────────────────────────────────

func (b *clientBridge) command(cmd ws.SurfaceCommand) error {
	return b.send(ws.SurfaceResponse{Event: ws.EventSurface, Command: cmd})
}

func (b *clientBridge) EnterFullscreen() error { return b.command(ws.SurfaceEnterFullscreen) }
func (b *clientBridge) ExitFullscreen() error  { return b.command(ws.SurfaceExitFullscreen) }
func (b *clientBridge) LockViewport() error    { return b.command(ws.SurfaceLockViewport) }
func (b *clientBridge) RestoreViewport() error { return b.command(ws.SurfaceRestoreViewport) }

// ─── Notifier ───────────────────────────────────────────────────────

// Notify renders a controller notice as a client event. Notices for an
// unbound session are dropped; the reconnect snapshot covers them.
func (b *clientBridge) Notify(n proctor.Notice) {
	msg := noticeEvent(n)
	if msg == nil {
		return
	}
	if err := b.send(msg); err != nil && !errors.Is(err, proctor.ErrSurfaceUnbound) {
		b.log.Debug().Err(err).Str("kind", string(n.Kind)).Msg("Notice not delivered")
	}
}

func submittedEvent(res *model.SubmissionResult) ws.SubmittedResponse {
	return ws.SubmittedResponse{
		Event:            ws.EventSubmitted,
		Reason:           res.Reason,
		Score:            res.Score,
		MaxMarks:         res.MaxMarks,
		TimeTakenSeconds: res.TimeTakenSeconds,
		Verdict:          res.SecurityReport.Verdict,
	}
}

func noticeEvent(n proctor.Notice) interface{} {
	switch n.Kind {
	case proctor.NoticeState:
		return ws.StateResponse{Event: ws.EventState, State: n.State}
	case proctor.NoticeTick:
		return ws.TickResponse{Event: ws.EventTick, Remaining: n.Remaining}
	case proctor.NoticeWarning:
		msg := ws.WarningResponse{Event: ws.EventWarning, Message: n.Message}
		if n.Decision != nil {
			msg.WarningCount = n.Decision.WarningCount
			msg.Remaining = n.Decision.Remaining
			msg.DismissMs = n.Decision.DismissAfter.Milliseconds()
		}
		if n.Violation != nil {
			msg.Kind = n.Violation.Kind
		}
		return msg
	case proctor.NoticeForceSubmit:
		msg := ws.ForceSubmitResponse{Event: ws.EventForceSubmit, Message: n.Message}
		if n.Violation != nil {
			msg.Kind = n.Violation.Kind
		}
		return msg
	case proctor.NoticeDegraded:
		return ws.DegradedResponse{Event: ws.EventDegraded, Message: n.Message}
	case proctor.NoticeSubmitted:
		if n.Result == nil {
			return nil
		}
		return submittedEvent(n.Result)
	case proctor.NoticeSubmissionFailed:
		return ws.SubmissionFailedResponse{Event: ws.EventSubmissionFailed, Message: n.Message}
	case proctor.NoticeUnavailable:
		return ws.UnavailableResponse{Event: ws.EventUnavailable, Message: n.Message}
	}
	// Violations are for proctors, not students.
	return nil
}
