package proctor

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	// DefaultMaxStrikes is the number of violations that forces submission.
	DefaultMaxStrikes = 3
	// DefaultWarningDismiss is how long a warning notice stays on screen.
	DefaultWarningDismiss = 5 * time.Second
)

// Action is the response the policy asks for.
type Action string

const (
	ActionWarn        Action = "warn"
	ActionForceSubmit Action = "force_submit"
	ActionIgnore      Action = "ignore"
)

// Decision is the outcome of recording one violation.
type Decision struct {
	Action       Action        `json:"action"`
	Message      string        `json:"message,omitempty"`
	Remaining    int           `json:"remaining"`
	WarningCount int           `json:"warning_count"`
	DismissAfter time.Duration `json:"-"`
}

// EscalationPolicy turns violations into warnings and, on the final strike,
// a single forced-submit decision.
type EscalationPolicy struct {
	maxStrikes   int
	dismissAfter time.Duration
	warningCount int
	exhausted    bool
}

// NewEscalationPolicy creates a policy. Non-positive arguments fall back to defaults.
func NewEscalationPolicy(maxStrikes int, dismissAfter time.Duration) *EscalationPolicy {
	if maxStrikes <= 0 {
		maxStrikes = DefaultMaxStrikes
	}
	if dismissAfter <= 0 {
		dismissAfter = DefaultWarningDismiss
	}
	return &EscalationPolicy{maxStrikes: maxStrikes, dismissAfter: dismissAfter}
}

// Record counts a violation. After ForceSubmit has been returned once every
// further call is ignored and leaves the count untouched.
func (p *EscalationPolicy) Record(ev model.ViolationEvent) Decision {
	if p.exhausted {
		return Decision{Action: ActionIgnore, WarningCount: p.warningCount}
	}

	p.warningCount++
	if p.warningCount >= p.maxStrikes {
		p.warningCount = p.maxStrikes
		p.exhausted = true
		return Decision{
			Action:       ActionForceSubmit,
			Message:      fmt.Sprintf("%s. Warning limit reached, your exam is being submitted automatically.", ev.Kind.Label()),
			WarningCount: p.warningCount,
		}
	}

	remaining := p.maxStrikes - p.warningCount
	return Decision{
		Action:       ActionWarn,
		Message:      fmt.Sprintf("%s. %d warning(s) left before automatic submission.", ev.Kind.Label(), remaining),
		Remaining:    remaining,
		WarningCount: p.warningCount,
		DismissAfter: p.dismissAfter,
	}
}

// WarningCount returns the number of recorded strikes.
func (p *EscalationPolicy) WarningCount() int { return p.warningCount }

// MaxStrikes returns the strike ceiling.
func (p *EscalationPolicy) MaxStrikes() int { return p.maxStrikes }

// Exhausted reports whether ForceSubmit has already been returned.
func (p *EscalationPolicy) Exhausted() bool { return p.exhausted }
