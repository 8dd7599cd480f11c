// Package clock abstracts timer scheduling so the delivery pipeline can run
// against virtual time in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback
type Timer interface {
	// Stop cancels the timer; it returns false when the callback already ran
	Stop() bool
}

// Clock reports the current time and schedules callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is a Clock backed by runtime timers
type Real struct{}

// New returns the runtime-backed clock
func New() Real { return Real{} }

// Now returns the wall-clock time
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules fn to run after d on its own goroutine
func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Manual is a Clock whose time only moves when Advance is called. Callbacks
// fire synchronously on the advancing goroutine, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManual returns a manual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current virtual time
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn to run once virtual time passes d from now
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, at: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing due timers in deadline
// order. Callbacks run without the clock lock held, so they may schedule
// further timers; timers that become due within the same advance also fire.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range m.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		// Time observed by the callback is its own deadline.
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

type manualTimer struct {
	clock   *Manual
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
