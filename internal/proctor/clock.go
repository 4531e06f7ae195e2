package proctor

import (
	"sync"
	"time"
)

// Clock is a monotonic countdown in whole seconds. It does not own a
// goroutine: the owner calls Tick once per interval.
type Clock struct {
	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool
	onTick    []func(remaining int)
	onExpired []func()
}

// NewClock creates a stopped clock.
func NewClock() *Clock {
	return &Clock{}
}

// OnTick registers a listener for every emitted remaining value.
func (c *Clock) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = append(c.onTick, fn)
}

// OnExpired registers a listener for the terminal expiry signal.
func (c *Clock) OnExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = append(c.onExpired, fn)
}

// Start arms the clock. A clock can only be started once.
func (c *Clock) Start(durationSeconds int) error {
	if durationSeconds <= 0 {
		return ErrInvalidDuration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.expired {
		return ErrInvalidTransition
	}
	c.remaining = durationSeconds
	c.running = true
	return nil
}

// Tick advances the clock by one second and emits the new remaining value.
// On reaching zero it emits expired once and stops itself. ok is false when
// the clock is not running; nothing is emitted in that case.
func (c *Clock) Tick() (remaining int, ok bool) {
	c.mu.Lock()
	if !c.running {
		remaining = c.remaining
		c.mu.Unlock()
		return remaining, false
	}

	c.remaining--
	remaining = c.remaining
	expired := remaining == 0
	if expired {
		c.running = false
		c.expired = true
	}
	tickFns := append([]func(int){}, c.onTick...)
	expiredFns := append([]func(){}, c.onExpired...)
	c.mu.Unlock()

	for _, fn := range tickFns {
		fn(remaining)
	}
	if expired {
		for _, fn := range expiredFns {
			fn()
		}
	}
	return remaining, true
}

// Stop halts the clock. Safe to call any number of times.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Remaining returns the seconds left on the clock.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the clock still ticks.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Expired reports whether the clock reached zero.
func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Ticker is the time source that drives a Clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker for the given interval.
type TickerFactory func(interval time.Duration) Ticker

type stdTicker struct {
	t *time.Ticker
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(interval time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(interval)}
}
