package proctor

import (
	"sort"
	"sync"
)

// Snapshot is a copy of the ledger at one point in time.
type Snapshot struct {
	Answers map[string]int `json:"answers"`
	Flags   []string       `json:"flags"`
}

// AnswerLedger records one selected choice per question and the set of
// questions flagged for review.
type AnswerLedger struct {
	mu      sync.RWMutex
	answers map[string]int
	flags   map[string]struct{}
	frozen  bool
}

// NewAnswerLedger creates an empty ledger.
func NewAnswerLedger() *AnswerLedger {
	return &AnswerLedger{
		answers: make(map[string]int),
		flags:   make(map[string]struct{}),
	}
}

// Select records choice for the question, replacing any previous selection.
// It reports false when the ledger is frozen.
func (l *AnswerLedger) Select(questionID string, choice int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return false
	}
	l.answers[questionID] = choice
	return true
}

// Clear marks the question unanswered.
func (l *AnswerLedger) Clear(questionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return false
	}
	delete(l.answers, questionID)
	return true
}

// ToggleFlag flips the review flag and returns whether the question is now flagged.
func (l *AnswerLedger) ToggleFlag(questionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, flagged := l.flags[questionID]
	if l.frozen {
		return flagged
	}
	if flagged {
		delete(l.flags, questionID)
		return false
	}
	l.flags[questionID] = struct{}{}
	return true
}

// Snapshot returns a copy of the answers and the sorted flag set.
func (l *AnswerLedger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	answers := make(map[string]int, len(l.answers))
	for q, c := range l.answers {
		answers[q] = c
	}
	flags := make([]string, 0, len(l.flags))
	for q := range l.flags {
		flags = append(flags, q)
	}
	sort.Strings(flags)
	return Snapshot{Answers: answers, Flags: flags}
}

// Answered returns the number of questions with a selection.
func (l *AnswerLedger) Answered() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.answers)
}

// Freeze rejects every later mutation.
func (l *AnswerLedger) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

// Frozen reports whether the ledger accepts mutations.
func (l *AnswerLedger) Frozen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen
}
