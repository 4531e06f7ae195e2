package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const feedBuffer = 512

// FeedEvent is one message on a test's live monitor channel.
type FeedEvent struct {
	Type         proctor.NoticeKind    `json:"type"`
	TestID       uuid.UUID             `json:"test_id"`
	StudentID    int                   `json:"student_id"`
	SessionID    uuid.UUID             `json:"session_id"`
	State        model.SessionState    `json:"state,omitempty"`
	Violation    *model.ViolationEvent `json:"violation,omitempty"`
	WarningCount int                   `json:"warning_count,omitempty"`
	Score        *float64              `json:"score,omitempty"`
	Verdict      model.Verdict         `json:"verdict,omitempty"`
	Reason       model.SubmitReason    `json:"reason,omitempty"`
	At           time.Time             `json:"at"`
}

// MonitorFeed publishes proctoring notices to Redis Pub/Sub for admins
// watching a test. Notify never blocks: events are dropped when the
// publisher falls behind.
type MonitorFeed struct {
	rdb    *redis.Client
	events chan FeedEvent
	log    zerolog.Logger
}

// NewMonitorFeed creates a new MonitorFeed. Call Run to start publishing.
func NewMonitorFeed(rdb *redis.Client, log zerolog.Logger) *MonitorFeed {
	return &MonitorFeed{
		rdb:    rdb,
		events: make(chan FeedEvent, feedBuffer),
		log:    log.With().Str("component", "monitor_feed").Logger(),
	}
}

// Notify implements proctor.Notifier.
func (f *MonitorFeed) Notify(n proctor.Notice) {
	ev, ok := feedEventFrom(n)
	if !ok {
		return
	}
	select {
	case f.events <- ev:
	default:
		f.log.Warn().Str("type", string(ev.Type)).Int("student_id", ev.StudentID).Msg("Monitor feed full, dropping event")
	}
}

func feedEventFrom(n proctor.Notice) (FeedEvent, bool) {
	ev := FeedEvent{
		Type:      n.Kind,
		TestID:    n.TestID,
		StudentID: n.StudentID,
		SessionID: n.SessionID,
		State:     n.State,
		At:        n.At,
	}

	switch n.Kind {
	case proctor.NoticeState:
		if n.State != model.SessionStateActive && n.State != model.SessionStateExited {
			return ev, false
		}
	case proctor.NoticeViolation:
		ev.Violation = n.Violation
	case proctor.NoticeWarning, proctor.NoticeForceSubmit:
		if n.Decision != nil {
			ev.WarningCount = n.Decision.WarningCount
		}
	case proctor.NoticeSubmitted:
		if n.Result != nil {
			score := n.Result.Score
			ev.Score = &score
			ev.Verdict = n.Result.SecurityReport.Verdict
			ev.Reason = n.Result.Reason
			ev.WarningCount = n.Result.SecurityReport.WarningCount
		}
	case proctor.NoticeDegraded, proctor.NoticeSubmissionFailed:
	default:
		return ev, false
	}
	return ev, true
}

// Run publishes queued events until ctx is cancelled, then flushes what is left.
func (f *MonitorFeed) Run(ctx context.Context) {
	f.log.Info().Msg("Monitor feed started")
	for {
		select {
		case <-ctx.Done():
			f.drain()
			f.log.Info().Msg("Monitor feed stopped")
			return
		case ev := <-f.events:
			f.publish(ctx, ev)
		}
	}
}

func (f *MonitorFeed) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-f.events:
			f.publish(ctx, ev)
		default:
			return
		}
	}
}

func (f *MonitorFeed) publish(ctx context.Context, ev FeedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.log.Error().Err(err).Msg("Marshal feed event")
		return
	}
	if err := f.rdb.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID.String()), data).Err(); err != nil && ctx.Err() == nil {
		f.log.Warn().Err(err).Msg("Publish feed event failed")
	}
}
