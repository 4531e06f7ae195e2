package proctor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type stubSource struct {
	paper *model.TestPaper
	err   error
}

func (s stubSource) LoadQuestions(context.Context, string) (*model.TestPaper, error) {
	return s.paper, s.err
}

type recordingSink struct {
	mu      sync.Mutex
	results []*model.SubmissionResult
	err     error
}

func (s *recordingSink) Submit(_ context.Context, result *model.SubmissionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

func (s *recordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *recordingNotifier) Count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			count++
		}
	}
	return count
}

// idleTicker never fires; tests drive the clock through tick().
type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type harness struct {
	ctrl     *Controller
	sink     *recordingSink
	notifier *recordingNotifier
	surface  *fakeSurface
	clock    *fakeTime
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		surface:  &fakeSurface{},
		clock:    &fakeTime{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
	}
	opts.NewTicker = func(time.Duration) Ticker { return idleTicker{} }
	opts.Now = h.clock.Now
	h.ctrl = NewController(SessionInfo{TestID: uuid.New(), StudentID: 42}, Deps{
		Surface:  h.surface,
		Notifier: h.notifier,
		Sink:     h.sink,
		Log:      zerolog.Nop(),
		Options:  opts,
	})
	return h
}

func (h *harness) start(t *testing.T, paper *model.TestPaper, profile ClientProfile) {
	t.Helper()
	require.NoError(t, h.ctrl.Load(context.Background(), stubSource{paper: paper}))
	require.Equal(t, model.SessionStateInstructions, h.ctrl.State())
	require.NoError(t, h.ctrl.Start(context.Background(), profile))
	require.Equal(t, model.SessionStateActive, h.ctrl.State())
}

func waitDelivered(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Delivered():
	case <-time.After(2 * time.Second):
		t.Fatal("submission was not delivered")
	}
}

func singleQuestionPaper(duration int) *model.TestPaper {
	return &model.TestPaper{
		TestID:          uuid.New(),
		Title:           "Quiz",
		DurationSeconds: duration,
		Questions: []model.Question{
			{ID: "q1", Text: "2+2?", Choices: []string{"3", "4", "5"}, Marks: 1, CorrectChoice: 1, OrderNum: 1},
		},
	}
}

func TestControllerSubmitsOnExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(5), desktopProfile)

	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		h.ctrl.tick()
	}

	waitDelivered(t, h.ctrl)
	require.Equal(t, model.SessionStateSubmitted, h.ctrl.State())

	res := h.ctrl.Result()
	require.NotNil(t, res)
	require.Zero(t, res.Score)
	require.Equal(t, 5, res.TimeTakenSeconds)
	require.Equal(t, model.VerdictHigh, res.SecurityReport.Verdict)
	require.Equal(t, model.SubmitReasonTimeExpired, res.Reason)
	require.Equal(t, 1, h.sink.Calls())
	require.Equal(t, 5, h.notifier.Count(NoticeTick)-1)

	require.False(t, h.ctrl.tick())
	require.Equal(t, 1, h.sink.Calls())
}

func TestControllerForcesSubmitOnThirdViolation(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(600), desktopProfile)

	require.NoError(t, h.ctrl.Select("q1", 1))
	h.clock.Advance(3 * time.Second)

	for i := 0; i < 3; i++ {
		h.ctrl.Report(RawEvent{Type: RawVisibility, Hidden: true})
	}
	waitDelivered(t, h.ctrl)

	require.Equal(t, model.SessionStateSubmitted, h.ctrl.State())
	res := h.ctrl.Result()
	require.Equal(t, 1.0, res.Score)
	require.Equal(t, 3, res.TimeTakenSeconds)
	require.Equal(t, model.SubmitReasonViolationLimit, res.Reason)
	require.Equal(t, model.VerdictCompromised, res.SecurityReport.Verdict)
	require.Equal(t, 3, res.SecurityReport.WarningCount)
	require.Equal(t, 3, res.SecurityReport.Counts[model.ViolationTabSwitch])
	require.Equal(t, 2, h.notifier.Count(NoticeWarning))
	require.Equal(t, 1, h.notifier.Count(NoticeForceSubmit))

	h.ctrl.Report(RawEvent{Type: RawVisibility, Hidden: true})
	require.Len(t, h.ctrl.Violations(), 3)
	require.Equal(t, 1, h.sink.Calls())
}

func TestControllerConcurrentTriggersSubmitOnce(t *testing.T) {
	h := newHarness(t, Options{MaxStrikes: 1})
	h.start(t, singleQuestionPaper(3), desktopProfile)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = h.ctrl.Submit()
		}()
		go func() {
			defer wg.Done()
			h.ctrl.Report(RawEvent{Type: RawContextMenu})
		}()
		go func() {
			defer wg.Done()
			h.ctrl.tick()
		}()
	}
	wg.Wait()

	waitDelivered(t, h.ctrl)
	require.Equal(t, model.SessionStateSubmitted, h.ctrl.State())
	require.Equal(t, 1, h.sink.Calls())
	require.Equal(t, 1, h.notifier.Count(NoticeSubmitted))
	require.LessOrEqual(t, len(h.ctrl.Violations()), 1)
}

func TestControllerFullscreenDeniedContinuesDegraded(t *testing.T) {
	h := newHarness(t, Options{})
	h.surface.fullscreenErr = errors.New("permission denied")
	h.start(t, singleQuestionPaper(60), desktopProfile)

	require.True(t, h.ctrl.Degraded())
	require.Equal(t, 1, h.notifier.Count(NoticeDegraded))

	h.ctrl.Report(RawEvent{Type: RawFullscreen, Fullscreen: false})
	h.ctrl.Report(RawEvent{Type: RawFullscreenError})
	require.Empty(t, h.ctrl.Violations())
	require.Equal(t, model.SessionStateActive, h.ctrl.State())
	require.Equal(t, 1, h.notifier.Count(NoticeDegraded))
}

func TestControllerClientFullscreenErrorMarksDegraded(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(60), desktopProfile)
	require.False(t, h.ctrl.Degraded())

	out := h.ctrl.Report(RawEvent{Type: RawFullscreenError})
	require.False(t, out.Prevent)
	require.True(t, h.ctrl.Degraded())
	require.Empty(t, h.ctrl.Violations())

	require.NoError(t, h.ctrl.Submit())
	waitDelivered(t, h.ctrl)
	require.True(t, h.ctrl.Result().SecurityReport.Degraded)
}

func TestControllerUnavailablePaper(t *testing.T) {
	cases := map[string]*model.TestPaper{
		"no questions":  {DurationSeconds: 60},
		"zero duration": singleQuestionPaper(0),
		"nil paper":     nil,
	}
	for name, paper := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Options{})
			err := h.ctrl.Load(context.Background(), stubSource{paper: paper})
			require.ErrorIs(t, err, ErrPaperUnavailable)
			require.Equal(t, model.SessionStateUnavailable, h.ctrl.State())
			require.Equal(t, 1, h.notifier.Count(NoticeUnavailable))

			select {
			case <-h.ctrl.Done():
			default:
				t.Fatal("done not closed")
			}
			require.ErrorIs(t, h.ctrl.Start(context.Background(), desktopProfile), ErrInvalidTransition)
			require.NoError(t, h.ctrl.Exit())
		})
	}
}

func TestControllerLoadTransportErrorIsRetryable(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.ctrl.Load(context.Background(), stubSource{err: errors.New("redis down")})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPaperUnavailable)
	require.Equal(t, model.SessionStateIdle, h.ctrl.State())

	require.NoError(t, h.ctrl.Load(context.Background(), stubSource{paper: singleQuestionPaper(30)}))
	require.Len(t, h.ctrl.Questions(), 1)
}

func TestControllerRejectsInvalidTransitions(t *testing.T) {
	h := newHarness(t, Options{})
	require.ErrorIs(t, h.ctrl.Start(context.Background(), desktopProfile), ErrInvalidTransition)
	require.ErrorIs(t, h.ctrl.Submit(), ErrInvalidTransition)
	require.ErrorIs(t, h.ctrl.Select("q1", 0), ErrInvalidTransition)

	h.start(t, singleQuestionPaper(60), desktopProfile)
	require.ErrorIs(t, h.ctrl.Start(context.Background(), desktopProfile), ErrInvalidTransition)
	require.ErrorIs(t, h.ctrl.Exit(), ErrInvalidTransition)

	require.NoError(t, h.ctrl.Submit())
	require.NoError(t, h.ctrl.Submit())
	waitDelivered(t, h.ctrl)
	require.Equal(t, 1, h.sink.Calls())
	require.ErrorIs(t, h.ctrl.Select("q1", 1), ErrInvalidTransition)
}

func TestControllerAnswerValidation(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, threeQuestionPaper(), desktopProfile)

	require.ErrorIs(t, h.ctrl.Select("q9", 0), ErrUnknownQuestion)
	require.ErrorIs(t, h.ctrl.Select("q1", 2), ErrChoiceOutOfRange)
	require.ErrorIs(t, h.ctrl.Select("q1", -1), ErrChoiceOutOfRange)
	require.ErrorIs(t, h.ctrl.Navigate(3), ErrIndexOutOfRange)

	require.NoError(t, h.ctrl.Select("q1", 1))
	require.NoError(t, h.ctrl.Select("q1", 0))
	require.NoError(t, h.ctrl.Select("q3", 2))
	require.NoError(t, h.ctrl.ClearAnswer("q3"))
	flagged, err := h.ctrl.ToggleFlag("q2")
	require.NoError(t, err)
	require.True(t, flagged)
	require.NoError(t, h.ctrl.Navigate(2))
	require.Equal(t, 2, h.ctrl.Current())

	require.Equal(t, Snapshot{Answers: map[string]int{"q1": 0}, Flags: []string{"q2"}}, h.ctrl.Snapshot())

	require.NoError(t, h.ctrl.Submit())
	waitDelivered(t, h.ctrl)
	res := h.ctrl.Result()
	require.Equal(t, 2.0, res.Score)
	require.Equal(t, 6.0, res.MaxMarks)
	require.Equal(t, []string{"q2"}, res.Flagged)
}

func TestControllerSinkFailureKeepsSubmittedState(t *testing.T) {
	h := newHarness(t, Options{})
	h.sink.err = errors.New("queue unavailable")
	h.start(t, singleQuestionPaper(60), desktopProfile)

	require.NoError(t, h.ctrl.Submit())
	waitDelivered(t, h.ctrl)

	require.Equal(t, model.SessionStateSubmitted, h.ctrl.State())
	require.ErrorContains(t, h.ctrl.DeliveryErr(), "queue unavailable")
	require.Equal(t, 1, h.notifier.Count(NoticeSubmissionFailed))
	require.Equal(t, 1, h.sink.Calls())
}

func TestControllerExitRestoresSurface(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(60), desktopProfile)

	require.NoError(t, h.ctrl.Submit())
	waitDelivered(t, h.ctrl)
	require.NoError(t, h.ctrl.Exit())
	require.NoError(t, h.ctrl.Exit())

	require.Equal(t, model.SessionStateExited, h.ctrl.State())
	require.Equal(t, []string{"lock_viewport", "enter_fullscreen", "exit_fullscreen", "restore_viewport"}, h.surface.Calls())
}

func TestControllerCloseWhileActiveFinalizes(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(60), desktopProfile)
	require.NoError(t, h.ctrl.Select("q1", 1))

	h.ctrl.Close()
	h.ctrl.Close()
	waitDelivered(t, h.ctrl)

	require.Equal(t, model.SessionStateExited, h.ctrl.State())
	require.Equal(t, model.SubmitReasonSessionClosed, h.ctrl.Result().Reason)
	require.Equal(t, 1.0, h.ctrl.Result().Score)
	require.Equal(t, 1, h.sink.Calls())
	require.Contains(t, h.surface.Calls(), "restore_viewport")
}

func TestControllerCloseWithoutClientIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	surface := &fakeSurface{}
	ctrl := NewController(SessionInfo{TestID: uuid.New(), StudentID: 42}, Deps{
		Surface:  surface,
		Notifier: &recordingNotifier{},
		Sink:     &recordingSink{},
		Log:      zerolog.New(zerolog.SyncWriter(&buf)),
		Options:  Options{NewTicker: func(time.Duration) Ticker { return idleTicker{} }},
	})
	require.NoError(t, ctrl.Load(context.Background(), stubSource{paper: singleQuestionPaper(60)}))
	require.NoError(t, ctrl.Start(context.Background(), desktopProfile))

	// The client went away before the grace period closed the session.
	surface.mu.Lock()
	surface.restoreErr = ErrSurfaceUnbound
	surface.mu.Unlock()

	ctrl.Close()
	waitDelivered(t, ctrl)
	require.Equal(t, model.SubmitReasonSessionClosed, ctrl.Result().Reason)
	require.NotContains(t, buf.String(), `"level":"error"`)
}

func TestControllerCloseBeforeStartDeliversNothing(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.ctrl.Load(context.Background(), stubSource{paper: singleQuestionPaper(60)}))

	h.ctrl.Close()
	waitDelivered(t, h.ctrl)
	require.Nil(t, h.ctrl.Result())
	require.Zero(t, h.sink.Calls())
	require.Empty(t, h.surface.Calls())
}

func TestControllerPreventsShortcutsAfterSubmit(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, singleQuestionPaper(60), desktopProfile)
	require.NoError(t, h.ctrl.Submit())

	out := h.ctrl.Report(RawEvent{Type: RawKeydown, Key: "F12"})
	require.True(t, out.Prevent)
	require.Empty(t, h.ctrl.Violations())
}

func TestControllerPaperHidesCorrectChoice(t *testing.T) {
	h := newHarness(t, Options{})
	_, ok := h.ctrl.Paper()
	require.False(t, ok)

	h.start(t, threeQuestionPaper(), desktopProfile)
	payload, ok := h.ctrl.Paper()
	require.True(t, ok)
	require.Len(t, payload.Questions, 3)
	require.Equal(t, 600, h.ctrl.Remaining())
	require.Equal(t, 42, h.ctrl.Session().StudentID)
}
