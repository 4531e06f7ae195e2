package proctor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/crypto/blake2b"
)

// QuestionSource loads the immutable question set of a test.
type QuestionSource interface {
	LoadQuestions(ctx context.Context, testID string) (*model.TestPaper, error)
}

// ResultSink accepts a finalized submission. The core never retries.
type ResultSink interface {
	Submit(ctx context.Context, result *model.SubmissionResult) error
}

// FinalizeInput is everything the pipeline reads at finalization.
type FinalizeInput struct {
	Session      model.Session
	Paper        *model.TestPaper
	Snapshot     Snapshot
	Violations   []model.ViolationEvent
	WarningCount int
	Degraded     bool
	Reason       model.SubmitReason
}

// Pipeline is the single finalization point of a session.
type Pipeline struct {
	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// NewPipeline creates a pipeline whose sink calls are bounded by timeout.
func NewPipeline(timeout time.Duration, log zerolog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pipeline{
		now:     time.Now,
		timeout: timeout,
		log:     log.With().Str("component", "submission_pipeline").Logger(),
	}
}

// Finalize scores the snapshot and assembles the immutable result.
func (p *Pipeline) Finalize(in FinalizeInput) *model.SubmissionResult {
	now := p.now()

	var score float64
	for _, q := range in.Paper.Questions {
		if choice, ok := in.Snapshot.Answers[q.ID]; ok && choice == q.CorrectChoice {
			score += q.Marks
		}
	}

	duration := in.Session.DurationSeconds
	taken := duration
	if in.Reason != model.SubmitReasonTimeExpired {
		taken = int(now.Sub(in.Session.StartedAt) / time.Second)
		if taken < 0 {
			taken = 0
		}
		if taken > duration {
			taken = duration
		}
	}

	flagged := make([]string, len(in.Snapshot.Flags))
	copy(flagged, in.Snapshot.Flags)
	answers := make(map[string]int, len(in.Snapshot.Answers))
	for q, c := range in.Snapshot.Answers {
		answers[q] = c
	}

	return &model.SubmissionResult{
		SessionID:        in.Session.ID,
		TestID:           in.Session.TestID,
		StudentID:        in.Session.StudentID,
		Answers:          answers,
		Flagged:          flagged,
		TimeTakenSeconds: taken,
		SecurityReport:   BuildSecurityReport(in.Violations, in.WarningCount, in.Degraded),
		Score:            score,
		MaxMarks:         in.Paper.MaxMarks(),
		Reason:           in.Reason,
		StartedAt:        in.Session.StartedAt,
		SubmittedAt:      now,
	}
}

// Deliver hands the result to the sink. Failures are logged and returned,
// never retried.
func (p *Pipeline) Deliver(ctx context.Context, sink ResultSink, result *model.SubmissionResult) error {
	if sink == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := sink.Submit(ctx, result); err != nil {
		p.log.Error().Err(err).
			Str("session_id", result.SessionID.String()).
			Int("student_id", result.StudentID).
			Msg("Submission sink failed, result kept locally")
		return fmt.Errorf("deliver submission: %w", err)
	}

	p.log.Info().
		Str("session_id", result.SessionID.String()).
		Float64("score", result.Score).
		Str("verdict", string(result.SecurityReport.Verdict)).
		Str("reason", string(result.Reason)).
		Msg("Submission delivered")
	return nil
}

// BuildSecurityReport summarizes a violation log.
func BuildSecurityReport(events []model.ViolationEvent, warningCount int, degraded bool) model.SecurityReport {
	counts := make(map[model.ViolationKind]int, len(model.ViolationKinds))
	for _, k := range model.ViolationKinds {
		counts[k] = 0
	}
	for _, ev := range events {
		counts[ev.Kind]++
	}

	verdict := model.VerdictHigh
	if len(events) > 0 {
		verdict = model.VerdictCompromised
	}

	log := make([]model.ViolationEvent, len(events))
	copy(log, events)

	return model.SecurityReport{
		Counts:          counts,
		TotalViolations: len(events),
		WarningCount:    warningCount,
		Verdict:         verdict,
		Degraded:        degraded,
		Events:          log,
		LogDigest:       DigestLog(events),
	}
}

// DigestLog returns the hex BLAKE2b-256 digest of the ordered violation log.
func DigestLog(events []model.ViolationEvent) string {
	h, _ := blake2b.New256(nil)
	var ts [8]byte
	for _, ev := range events {
		binary.BigEndian.PutUint64(ts[:], uint64(ev.Timestamp.UnixNano()))
		h.Write(ts[:])
		h.Write([]byte(ev.Kind))
		h.Write([]byte{0})
		h.Write([]byte(ev.Detail))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
