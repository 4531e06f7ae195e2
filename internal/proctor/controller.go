package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

// SessionInfo identifies the attempt a Controller runs.
type SessionInfo struct {
	SessionID uuid.UUID
	TestID    uuid.UUID
	StudentID int
}

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	MaxStrikes     int
	WarningDismiss time.Duration
	TickInterval   time.Duration
	SubmitTimeout  time.Duration
	NewTicker      TickerFactory
	Now            func() time.Time
	Detectors      func() []Detector
}

// Deps are the collaborators a Controller talks to.
type Deps struct {
	Surface  AmbientSurface
	Notifier Notifier
	Sink     ResultSink
	Log      zerolog.Logger
	Options  Options
}

// Controller owns one proctored session from loading the paper to exit.
// All state lives behind a single mutex; the three finalization triggers
// (manual submit, clock expiry, forced submit) race on it and exactly one wins.
type Controller struct {
	mu sync.Mutex

	session  model.Session
	state    model.SessionState
	paper    *model.TestPaper
	current  int
	degraded bool

	clock    *Clock
	monitor  *Monitor
	policy   *EscalationPolicy
	ledger   *AnswerLedger
	pipeline *Pipeline
	lease    *SurfaceLease

	surface  AmbientSurface
	notifier Notifier
	sink     ResultSink
	opts     Options
	log      zerolog.Logger

	violations []model.ViolationEvent
	finalizing bool
	result     *model.SubmissionResult
	pending    *model.SubmissionResult
	deliverErr error
	stopTicker context.CancelFunc

	done          chan struct{}
	doneOnce      sync.Once
	delivered     chan struct{}
	deliveredOnce sync.Once
}

// NewController creates a controller in the Idle state.
func NewController(info SessionInfo, deps Deps) *Controller {
	opts := deps.Options
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewStdTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if info.SessionID == uuid.Nil {
		info.SessionID = uuid.New()
	}

	log := deps.Log.With().
		Str("session_id", info.SessionID.String()).
		Str("test_id", info.TestID.String()).
		Int("student_id", info.StudentID).
		Logger()

	c := &Controller{
		session: model.Session{
			ID:        info.SessionID,
			TestID:    info.TestID,
			StudentID: info.StudentID,
			State:     model.SessionStateIdle,
		},
		state:     model.SessionStateIdle,
		clock:     NewClock(),
		policy:    NewEscalationPolicy(opts.MaxStrikes, opts.WarningDismiss),
		ledger:    NewAnswerLedger(),
		pipeline:  NewPipeline(opts.SubmitTimeout, log),
		surface:   deps.Surface,
		notifier:  deps.Notifier,
		sink:      deps.Sink,
		opts:      opts,
		log:       log.With().Str("component", "session_controller").Logger(),
		done:      make(chan struct{}),
		delivered: make(chan struct{}),
	}
	if c.surface == nil {
		c.surface = nopSurface{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	c.pipeline.now = opts.Now

	var detectors []Detector
	if opts.Detectors != nil {
		detectors = opts.Detectors()
	}
	c.monitor = NewMonitor(c.onViolation, log, detectors...)
	c.monitor.now = opts.Now

	c.clock.OnTick(func(remaining int) {
		c.emit(Notice{Kind: NoticeTick, Remaining: remaining})
	})
	c.clock.OnExpired(func() {
		c.log.Info().Msg("Time expired, submitting")
		c.finalizeLocked(model.SubmitReasonTimeExpired)
	})

	return c
}

// unlock releases the mutex and hands any result finalized during the
// critical section to the sink. Delivery never runs under the lock.
func (c *Controller) unlock() {
	res := c.pending
	c.pending = nil
	c.mu.Unlock()
	if res != nil {
		go c.deliver(res)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Load fetches the test paper and moves Idle → Instructions. An empty paper
// or a non-positive duration makes the session Unavailable for good; a
// transport error leaves it Idle so the load can be retried.
func (c *Controller) Load(ctx context.Context, source QuestionSource) error {
	c.mu.Lock()
	if c.state != model.SessionStateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: load from %s", ErrInvalidTransition, state)
	}
	c.mu.Unlock()

	paper, err := source.LoadQuestions(ctx, c.session.TestID.String())

	c.mu.Lock()
	defer c.unlock()
	if c.state != model.SessionStateIdle {
		return ErrSessionClosed
	}

	if errors.Is(err, ErrPaperUnavailable) {
		c.markUnavailable(err.Error())
		return err
	}
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to load test paper")
		return fmt.Errorf("load test paper: %w", err)
	}
	if reason := validatePaper(paper); reason != "" {
		c.markUnavailable(reason)
		return fmt.Errorf("%w: %s", ErrPaperUnavailable, reason)
	}

	c.paper = paper
	c.session.DurationSeconds = paper.DurationSeconds
	c.setState(model.SessionStateInstructions)
	c.log.Info().Int("questions", len(paper.Questions)).Int("duration", paper.DurationSeconds).Msg("Test paper loaded")
	return nil
}

func validatePaper(p *model.TestPaper) string {
	if p == nil || len(p.Questions) == 0 {
		return "test has no questions"
	}
	if p.DurationSeconds <= 0 {
		return "test duration must be positive"
	}
	seen := make(map[string]struct{}, len(p.Questions))
	for _, q := range p.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Sprintf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if len(q.Choices) == 0 {
			return fmt.Sprintf("question %q has no choices", q.ID)
		}
	}
	return ""
}

func (c *Controller) markUnavailable(reason string) {
	c.setState(model.SessionStateUnavailable)
	c.emit(Notice{Kind: NoticeUnavailable, Message: reason})
	c.closeDone()
	c.closeDelivered()
	c.log.Warn().Str("reason", reason).Msg("Test paper unavailable")
}

// Start moves Instructions → Active: it takes the ambient surface, arms the
// detectors and starts the countdown.
func (c *Controller) Start(_ context.Context, profile ClientProfile) error {
	c.mu.Lock()
	defer c.unlock()

	if c.state != model.SessionStateInstructions {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state)
	}

	lease, err := AcquireSurface(c.surface, c.log)
	if err != nil {
		return fmt.Errorf("acquire ambient surface: %w", err)
	}

	if err := c.clock.Start(c.paper.DurationSeconds); err != nil {
		_ = lease.Release()
		return fmt.Errorf("start clock: %w", err)
	}
	c.lease = lease

	report := c.monitor.Attach(profile)
	if lease.FullscreenErr() != nil || !report.FullscreenArmed() {
		c.degraded = true
	}

	c.session.StartedAt = c.opts.Now()
	c.setState(model.SessionStateActive)
	observability.ActiveSessions().Inc()

	tickCtx, cancel := context.WithCancel(context.Background())
	c.stopTicker = cancel
	go c.runClock(tickCtx, c.opts.NewTicker(c.opts.TickInterval))

	c.emit(Notice{Kind: NoticeTick, Remaining: c.clock.Remaining()})
	if c.degraded {
		c.emit(Notice{Kind: NoticeDegraded, Message: "Fullscreen is unavailable; monitoring continues without it."})
	}

	c.log.Info().
		Bool("degraded", c.degraded).
		Bool("mobile", profile.IsMobile()).
		Strs("armed", report.Armed).
		Msg("Session started")
	return nil
}

func (c *Controller) runClock(ctx context.Context, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !c.tick() {
				return
			}
		}
	}
}

func (c *Controller) tick() bool {
	c.mu.Lock()
	defer c.unlock()
	if c.state != model.SessionStateActive {
		return false
	}
	_, ok := c.clock.Tick()
	return ok && c.state == model.SessionStateActive
}

// ─── Answering ──────────────────────────────────────────────────────────────

// Select records choice for the question.
func (c *Controller) Select(questionID string, choice int) error {
	c.mu.Lock()
	defer c.unlock()

	q, err := c.activeQuestion(questionID)
	if err != nil {
		return err
	}
	if choice < 0 || choice >= len(q.Choices) {
		return fmt.Errorf("%w: %d", ErrChoiceOutOfRange, choice)
	}
	if !c.ledger.Select(questionID, choice) {
		return ErrInvalidTransition
	}
	return nil
}

// ClearAnswer removes the selection for the question. Clearing an
// unanswered question is a no-op.
func (c *Controller) ClearAnswer(questionID string) error {
	c.mu.Lock()
	defer c.unlock()

	if _, err := c.activeQuestion(questionID); err != nil {
		return err
	}
	c.ledger.Clear(questionID)
	return nil
}

// ToggleFlag flips the review flag and returns the new value.
func (c *Controller) ToggleFlag(questionID string) (bool, error) {
	c.mu.Lock()
	defer c.unlock()

	if _, err := c.activeQuestion(questionID); err != nil {
		return false, err
	}
	return c.ledger.ToggleFlag(questionID), nil
}

// Navigate moves the cursor to the question at index.
func (c *Controller) Navigate(index int) error {
	c.mu.Lock()
	defer c.unlock()

	if c.state != model.SessionStateActive {
		return fmt.Errorf("%w: navigate in %s", ErrInvalidTransition, c.state)
	}
	if index < 0 || index >= len(c.paper.Questions) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	c.current = index
	return nil
}

func (c *Controller) activeQuestion(questionID string) (model.Question, error) {
	if c.state != model.SessionStateActive {
		return model.Question{}, fmt.Errorf("%w: answer in %s", ErrInvalidTransition, c.state)
	}
	q, ok := c.paper.Lookup(questionID)
	if !ok {
		return model.Question{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return q, nil
}

// ─── Monitoring ─────────────────────────────────────────────────────────────

// Report classifies a raw platform event. The returned outcome tells the
// client whether to suppress the event's default action; suppression of
// forbidden keys and the context menu holds in every state.
func (c *Controller) Report(ev RawEvent) Outcome {
	c.mu.Lock()
	defer c.unlock()

	if ev.At.IsZero() {
		ev.At = c.opts.Now()
	}

	if ev.Type == RawFullscreenError {
		if c.state == model.SessionStateActive && !c.degraded {
			c.degraded = true
			c.emit(Notice{Kind: NoticeDegraded, Message: "Fullscreen was refused; monitoring continues without it."})
			c.log.Info().Str("target", ev.Target).Msg("Client refused fullscreen, session degraded")
		}
		return Outcome{}
	}

	return c.monitor.Handle(ev)
}

// onViolation runs inside monitor.Handle, so the lock is already held.
func (c *Controller) onViolation(ev model.ViolationEvent) {
	if c.state != model.SessionStateActive || c.finalizing {
		return
	}

	c.violations = append(c.violations, ev)
	observability.ViolationsTotal().WithLabelValues(string(ev.Kind)).Inc()
	c.emit(Notice{Kind: NoticeViolation, Violation: &ev})

	decision := c.policy.Record(ev)
	c.session.WarningCount = decision.WarningCount

	c.log.Warn().
		Str("kind", string(ev.Kind)).
		Str("detail", ev.Detail).
		Int("warning_count", decision.WarningCount).
		Str("action", string(decision.Action)).
		Msg("Violation recorded")

	switch decision.Action {
	case ActionWarn:
		observability.WarningsTotal().Inc()
		c.emit(Notice{Kind: NoticeWarning, Message: decision.Message, Decision: &decision, Violation: &ev})
	case ActionForceSubmit:
		c.emit(Notice{Kind: NoticeForceSubmit, Message: decision.Message, Decision: &decision, Violation: &ev})
		c.finalizeLocked(model.SubmitReasonViolationLimit)
	}
}

// ─── Finalization ───────────────────────────────────────────────────────────

// Submit is the manual finalization trigger. Submitting a session that is
// already finalizing or finalized is a no-op.
func (c *Controller) Submit() error {
	c.mu.Lock()
	defer c.unlock()

	if c.finalizing {
		return nil
	}
	if c.state != model.SessionStateActive {
		return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, c.state)
	}
	c.finalizeLocked(model.SubmitReasonManual)
	return nil
}

// finalizeLocked must be called with c.mu held. The first caller wins.
func (c *Controller) finalizeLocked(reason model.SubmitReason) {
	if c.finalizing || c.state != model.SessionStateActive {
		return
	}
	c.finalizing = true
	c.setState(model.SessionStateSubmitting)

	c.clock.Stop()
	if c.stopTicker != nil {
		c.stopTicker()
	}
	c.monitor.Detach()
	c.ledger.Freeze()

	result := c.pipeline.Finalize(FinalizeInput{
		Session:      c.session,
		Paper:        c.paper,
		Snapshot:     c.ledger.Snapshot(),
		Violations:   c.violations,
		WarningCount: c.policy.WarningCount(),
		Degraded:     c.degraded,
		Reason:       reason,
	})
	c.result = result
	c.pending = result

	c.setState(model.SessionStateSubmitted)
	observability.ActiveSessions().Dec()
	observability.SubmissionsTotal().WithLabelValues(string(reason), string(result.SecurityReport.Verdict)).Inc()

	c.emit(Notice{Kind: NoticeSubmitted, Result: result})
	c.closeDone()

	c.log.Info().
		Str("reason", string(reason)).
		Float64("score", result.Score).
		Int("violations", result.SecurityReport.TotalViolations).
		Str("verdict", string(result.SecurityReport.Verdict)).
		Msg("Session finalized")
}

func (c *Controller) deliver(result *model.SubmissionResult) {
	defer c.closeDelivered()

	err := c.pipeline.Deliver(context.Background(), c.sink, result)
	if err == nil {
		return
	}

	observability.SubmissionFailuresTotal().Inc()
	c.mu.Lock()
	c.deliverErr = err
	c.emit(Notice{Kind: NoticeSubmissionFailed, Message: "Your answers were recorded locally but could not be sent. Please tell your proctor."})
	c.mu.Unlock()
}

// Exit leaves the results screen and restores the ambient surface.
func (c *Controller) Exit() error {
	c.mu.Lock()
	defer c.unlock()

	switch c.state {
	case model.SessionStateExited:
		return nil
	case model.SessionStateSubmitted, model.SessionStateUnavailable:
	default:
		return fmt.Errorf("%w: exit from %s", ErrInvalidTransition, c.state)
	}

	c.releaseLease()
	c.setState(model.SessionStateExited)
	return nil
}

// Close tears the session down on disconnect or shutdown. An active
// session is finalized first. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.unlock()

	if c.state == model.SessionStateExited {
		return
	}
	if c.state == model.SessionStateActive {
		c.log.Info().Msg("Session closed while active, submitting")
		c.finalizeLocked(model.SubmitReasonSessionClosed)
	}

	c.clock.Stop()
	if c.stopTicker != nil {
		c.stopTicker()
	}
	c.monitor.Detach()
	c.releaseLease()

	if c.result == nil {
		c.closeDelivered()
	}
	c.setState(model.SessionStateExited)
	c.closeDone()
}

func (c *Controller) releaseLease() {
	err := c.lease.Release()
	switch {
	case err == nil:
	case errors.Is(err, ErrSurfaceUnbound):
		c.log.Debug().Err(err).Msg("Ambient surface released without a client")
	default:
		c.log.Error().Err(err).Msg("Failed to restore ambient surface")
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (c *Controller) setState(s model.SessionState) {
	c.state = s
	c.session.State = s
	c.emit(Notice{Kind: NoticeState, State: s})
}

func (c *Controller) emit(n Notice) {
	n.SessionID = c.session.ID
	n.TestID = c.session.TestID
	n.StudentID = c.session.StudentID
	if n.State == "" {
		n.State = c.state
	}
	if n.At.IsZero() {
		n.At = c.opts.Now()
	}
	c.notifier.Notify(n)
}

func (c *Controller) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) closeDelivered() {
	c.deliveredOnce.Do(func() { close(c.delivered) })
}

// ─── Read API ───────────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the session record.
func (c *Controller) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Paper returns the student-facing paper, or false before Load succeeded.
func (c *Controller) Paper() (model.PaperPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paper == nil {
		return model.PaperPayload{}, false
	}
	return c.paper.Payload(), true
}

// Questions returns the student-facing questions in order.
func (c *Controller) Questions() []model.QuestionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paper == nil {
		return nil
	}
	return c.paper.Views()
}

// Current returns the index of the question on screen.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Remaining returns the seconds left on the clock.
func (c *Controller) Remaining() int {
	return c.clock.Remaining()
}

// Snapshot returns a copy of the answer ledger.
func (c *Controller) Snapshot() Snapshot {
	return c.ledger.Snapshot()
}

// Violations returns a copy of the violation log.
func (c *Controller) Violations() []model.ViolationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ViolationEvent, len(c.violations))
	copy(out, c.violations)
	return out
}

// Degraded reports whether fullscreen monitoring is unavailable.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Result returns the finalized submission, nil before finalization.
func (c *Controller) Result() *model.SubmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// DeliveryErr returns the sink error, if delivery failed.
func (c *Controller) DeliveryErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliverErr
}

// Done is closed once the session has finalized or become terminal.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Delivered is closed once the sink call returned, or when there is
// nothing to deliver.
func (c *Controller) Delivered() <-chan struct{} {
	return c.delivered
}
