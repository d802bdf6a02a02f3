// Package clock abstracts the host ledger's block timestamp. Every timer in the
// rootchain engine reads time exclusively through a Clock.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current wall time. Implementations must be monotonic.
type Clock interface {
	Now() time.Time
}

// System reads the local wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Func adapts a plain function (e.g. a test's now()) into a Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Manual is a Clock advanced explicitly by its owner.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t if t is not before the current time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t
	}
}
