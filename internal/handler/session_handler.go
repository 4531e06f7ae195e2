package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionOpener hands out the live session of a student.
type SessionOpener interface {
	Open(ctx context.Context, testID uuid.UUID, studentID int, newBinding func() service.SessionBinding) (*service.SessionHandle, bool, error)
	PreviousResult(ctx context.Context, testID uuid.UUID, studentID int) (*model.SubmissionResult, error)
	Disconnected(handle *service.SessionHandle)
	Release(handle *service.SessionHandle)
}

// Checkpointer mirrors applied answers to durable storage so a crashed
// server does not lose them.
type Checkpointer interface {
	Save(ctx context.Context, testID uuid.UUID, studentID int, questionID string, choice *int) error
}

const checkpointTimeout = 2 * time.Second

// SessionHandler streams a proctored session over WebSocket.
type SessionHandler struct {
	sessions   SessionOpener
	checkpoint Checkpointer
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler. checkpoint may be nil.
func NewSessionHandler(sessions SessionOpener, checkpoint Checkpointer, log zerolog.Logger, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		checkpoint: checkpoint,
		log:        log.With().Str("component", "session_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// sessionConn is the per-connection state of the read loop.
type sessionConn struct {
	handle  *service.SessionHandle
	cw      *connWriter
	profile *proctor.ClientProfile
	log     zerolog.Logger
}

// Stream godoc
// WS /ws/v1/student/tests/:test_id/session?token=
// Runs one student's session: loads the paper, starts the clock on request,
// records answers, classifies raw events and reports the result.
func (h *SessionHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	studentID := claims.UserID
	connLog := h.log.With().
		Int("student_id", studentID).
		Str("test_id", testID.String()).
		Logger()

	cw := newConnWriter(conn, connLog)

	handle, resumed, err := h.sessions.Open(c.Request.Context(), testID, studentID, func() service.SessionBinding {
		b := newClientBridge(connLog)
		b.Bind(cw)
		return b
	})
	if err != nil {
		h.rejectOpen(c.Request.Context(), cw, connLog, testID, studentID, err)
		return
	}

	bridge, ok := handle.Binding.(*clientBridge)
	if !ok {
		connLog.Error().Msg("Session bound to a foreign client")
		cw.flushAndClose(websocket.CloseInternalServerErr, "internal error")
		return
	}
	if resumed {
		bridge.Bind(cw)
	}

	sc := &sessionConn{handle: handle, cw: cw, log: connLog.With().Str("session_id", handle.Controller.Session().ID.String()).Logger()}
	sc.log.Info().Bool("resumed", resumed).Msg("Student connected")

	h.sendPaper(sc, resumed)
	if resumed && handle.Controller.State() == model.SessionStateActive {
		// A reloaded page lost its fullscreen and zoom lock.
		reclaimSurface(bridge, sc.log)
	}

	exited := h.readLoop(sc)

	bridge.Unbind(cw)
	if exited {
		h.sessions.Release(handle)
		cw.flushAndClose(websocket.CloseNormalClosure, "exited")
		sc.log.Info().Msg("Student exited")
		return
	}
	h.sessions.Disconnected(handle)
	cw.close()
	sc.log.Info().Msg("Student disconnected")
}

// reclaimSurface reapplies the lease held by a resumed session to the new
// page. Failures are logged the way the initial acquisition logs them.
func reclaimSurface(surface proctor.AmbientSurface, log zerolog.Logger) {
	if err := surface.LockViewport(); err != nil {
		log.Warn().Err(err).Msg("Viewport lock failed on resume")
	}
	if err := surface.EnterFullscreen(); err != nil {
		log.Info().Err(err).Msg("Fullscreen entry failed on resume, continuing in degraded mode")
	}
}

func (h *SessionHandler) rejectOpen(ctx context.Context, cw *connWriter, log zerolog.Logger, testID uuid.UUID, studentID int, err error) {
	switch {
	case errors.Is(err, proctor.ErrPaperUnavailable):
		// The bridge already sent the unavailable event.
		log.Warn().Err(err).Msg("Test paper unavailable")
		cw.flushAndClose(websocket.CloseNormalClosure, "unavailable")
	case errors.Is(err, service.ErrAlreadySubmitted):
		_ = cw.send(errorEvent(err))
		if res, rerr := h.sessions.PreviousResult(ctx, testID, studentID); rerr == nil && res != nil {
			_ = cw.send(submittedEvent(res))
		}
		cw.flushAndClose(websocket.CloseNormalClosure, "already submitted")
	default:
		log.Error().Err(err).Msg("Failed to open session")
		_ = cw.send(errorEvent(err))
		cw.flushAndClose(websocket.CloseInternalServerErr, "internal error")
	}
}

func (h *SessionHandler) sendPaper(sc *sessionConn, resumed bool) {
	ctrl := sc.handle.Controller
	paper, ok := ctrl.Paper()
	if !ok {
		return
	}
	snap := ctrl.Snapshot()
	_ = sc.cw.send(ws.PaperResponse{
		Event:     ws.EventPaper,
		SessionID: ctrl.Session().ID.String(),
		State:     ctrl.State(),
		Paper:     paper,
		Current:   ctrl.Current(),
		Remaining: ctrl.Remaining(),
		Answers:   snap.Answers,
		Flags:     snap.Flags,
		Resumed:   resumed,
	})
}

// readLoop dispatches client actions until the connection drops or the
// student exits. It reports whether the student exited.
func (h *SessionHandler) readLoop(sc *sessionConn) bool {
	for {
		data, err := ws.ReadMessage(sc.cw.conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				sc.log.Debug().Err(err).Msg("Connection closed")
			}
			return false
		}

		var env ws.RequestEnvelope
		if fields := validator.Decode(data, &env); fields != nil {
			_ = sc.cw.send(codeEvent(response.ErrInvalidPayload))
			continue
		}

		if env.Action == ws.ActionExit {
			if err := sc.handle.Controller.Exit(); err != nil {
				_ = sc.cw.send(errorEvent(err))
				continue
			}
			return true
		}
		h.dispatch(sc, env.Action, data)
	}
}

func (h *SessionHandler) dispatch(sc *sessionConn, action ws.Action, data []byte) {
	ctrl := sc.handle.Controller

	switch action {
	case ws.ActionPing:
		_ = sc.cw.send(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionHello:
		var req ws.HelloRequest
		if !decode(sc, data, &req) {
			return
		}
		sc.profile = &req.Profile
		sc.log.Debug().Bool("mobile", req.Profile.IsMobile()).Bool("fullscreen", req.Profile.FullscreenSupported).Msg("Client profile received")

	case ws.ActionStart:
		if sc.profile == nil {
			_ = sc.cw.send(codeEvent(response.ErrProfileRequired))
			return
		}
		if err := ctrl.Start(context.Background(), *sc.profile); err != nil {
			_ = sc.cw.send(errorEvent(err))
		}

	case ws.ActionSelect:
		var req ws.SelectRequest
		if !decode(sc, data, &req) {
			return
		}
		if err := ctrl.Select(req.QID, *req.Choice); err != nil {
			_ = sc.cw.send(errorEvent(err))
			return
		}
		h.saveCheckpoint(sc, req.QID, req.Choice)
		_ = sc.cw.send(ws.AckResponse{Event: ws.EventAck, Action: action, QID: req.QID})

	case ws.ActionClear:
		var req ws.QuestionRequest
		if !decode(sc, data, &req) {
			return
		}
		if err := ctrl.ClearAnswer(req.QID); err != nil {
			_ = sc.cw.send(errorEvent(err))
			return
		}
		h.saveCheckpoint(sc, req.QID, nil)
		_ = sc.cw.send(ws.AckResponse{Event: ws.EventAck, Action: action, QID: req.QID})

	case ws.ActionFlag:
		var req ws.QuestionRequest
		if !decode(sc, data, &req) {
			return
		}
		flagged, err := ctrl.ToggleFlag(req.QID)
		if err != nil {
			_ = sc.cw.send(errorEvent(err))
			return
		}
		_ = sc.cw.send(ws.AckResponse{Event: ws.EventAck, Action: action, QID: req.QID, Flagged: &flagged})

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if !decode(sc, data, &req) {
			return
		}
		if err := ctrl.Navigate(*req.Index); err != nil {
			_ = sc.cw.send(errorEvent(err))
			return
		}
		_ = sc.cw.send(ws.AckResponse{Event: ws.EventAck, Action: action, Index: req.Index})

	case ws.ActionSubmit:
		if err := ctrl.Submit(); err != nil {
			_ = sc.cw.send(errorEvent(err))
		}

	case ws.ActionEvent:
		var req ws.EventRequest
		if !decode(sc, data, &req) {
			return
		}
		req.Raw.At = time.Now()
		out := ctrl.Report(req.Raw)
		_ = sc.cw.send(ws.OutcomeResponse{Event: ws.EventOutcome, Prevent: out.Prevent})

	default:
		sc.log.Warn().Str("action", string(action)).Msg("Unknown action")
		_ = sc.cw.send(codeEvent(response.ErrUnknownAction))
	}
}

// saveCheckpoint runs inline so checkpoints of one session keep their order.
func (h *SessionHandler) saveCheckpoint(sc *sessionConn, questionID string, choice *int) {
	if h.checkpoint == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	if err := h.checkpoint.Save(ctx, sc.handle.TestID, sc.handle.StudentID, questionID, choice); err != nil {
		sc.log.Warn().Err(err).Str("q_id", questionID).Msg("Autosave failed")
	}
}

func decode(sc *sessionConn, data []byte, dst interface{}) bool {
	if fields := validator.Decode(data, dst); fields != nil {
		sc.log.Debug().Interface("fields", fields).Msg("Invalid payload")
		msg := codeEvent(response.ErrValidation)
		msg.Fields = fields
		_ = sc.cw.send(msg)
		return false
	}
	return true
}

func codeEvent(code response.ErrCode) ws.ErrorResponse {
	return ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code)}
}

func errorEvent(err error) ws.ErrorResponse {
	_, code := errorCode(err)
	return codeEvent(code)
}
