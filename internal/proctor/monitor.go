package proctor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttachReport lists the detectors that could not attach. The session keeps
// running without them.
type AttachReport struct {
	Armed  []string          `json:"armed"`
	Failed map[string]string `json:"failed,omitempty"`
}

// FullscreenArmed reports whether fullscreen exits are being watched.
func (r AttachReport) FullscreenArmed() bool {
	_, failed := r.Failed["fullscreen"]
	return !failed
}

// Monitor fans raw platform events out to its detectors and forwards every
// classified violation to a single callback. Monitor is not safe for
// concurrent use; the Controller serializes access.
type Monitor struct {
	detectors   []Detector
	armed       map[string]bool
	attached    bool
	onViolation func(model.ViolationEvent)
	now         func() time.Time
	log         zerolog.Logger
	report      AttachReport
}

// NewMonitor creates a detached monitor. With no detectors it uses DefaultDetectors.
func NewMonitor(onViolation func(model.ViolationEvent), log zerolog.Logger, detectors ...Detector) *Monitor {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Monitor{
		detectors:   detectors,
		armed:       make(map[string]bool, len(detectors)),
		onViolation: onViolation,
		now:         time.Now,
		log:         log.With().Str("component", "violation_monitor").Logger(),
	}
}

// Attach arms every detector for the given profile. Calling Attach on an
// attached monitor returns the previous report and arms nothing twice.
func (m *Monitor) Attach(profile ClientProfile) AttachReport {
	if m.attached {
		return m.report
	}

	report := AttachReport{Failed: map[string]string{}}
	for _, d := range m.detectors {
		if m.armed[d.Name()] {
			continue
		}
		if err := d.Attach(profile); err != nil {
			// Logged once per attach: a missing platform API is not a violation.
			m.log.Info().Err(err).Str("detector", d.Name()).Msg("Detector unavailable, continuing without it")
			report.Failed[d.Name()] = err.Error()
			continue
		}
		m.armed[d.Name()] = true
		report.Armed = append(report.Armed, d.Name())
	}

	m.attached = true
	m.report = report
	m.log.Debug().Strs("armed", report.Armed).Msg("Monitor attached")
	return report
}

// Detach disarms every detector. Safe to call any number of times.
func (m *Monitor) Detach() {
	if !m.attached {
		return
	}
	for _, d := range m.detectors {
		if m.armed[d.Name()] {
			d.Detach()
			delete(m.armed, d.Name())
		}
	}
	m.attached = false
	m.log.Debug().Msg("Monitor detached")
}

// Attached reports whether detectors are currently armed.
func (m *Monitor) Attached() bool {
	return m.attached
}

// Handle classifies a raw event. Violations are emitted in arrival order
// through the onViolation callback; the merged outcome tells the client
// whether to suppress the event's default action.
func (m *Monitor) Handle(ev RawEvent) Outcome {
	if ev.At.IsZero() {
		ev.At = m.now()
	}

	var out Outcome
	for _, d := range m.detectors {
		res := d.Handle(ev)
		if res.Violation != nil && !m.armed[d.Name()] {
			res.Violation = nil
		}
		out = out.merge(res)
	}

	if out.Violation != nil && m.attached && m.onViolation != nil {
		m.onViolation(*out.Violation)
	}
	return out
}
