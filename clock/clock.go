// Package clock abstracts monotonic time so the download engine's
// timeout-driven components (HealthMonitor, request accounting) can be
// driven deterministically in tests instead of racing real wall time.
package clock

import (
	"time"

	erbsenclock "github.com/andres-erbsen/clock"
)

// Clock is the monotonic time capability the engine consumes. Only what
// HealthMonitor and request-timeout accounting need is exposed. Uses
// stdlib time.Time/time.Duration directly (what andres-erbsen/clock's
// own Clock interface returns) so engine code that mixes ActivePiece's
// plain time.Time timestamps with a HealthMonitor driven by this
// interface never needs a conversion.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the production Clock, backed by the real wall clock.
type System struct {
	c erbsenclock.Clock
}

// NewSystem returns a Clock backed by the OS monotonic clock.
func NewSystem() *System {
	return &System{c: erbsenclock.New()}
}

func (s *System) Now() time.Time                      { return s.c.Now() }
func (s *System) After(d time.Duration) <-chan time.Time { return s.c.After(d) }

// Mock is a deterministic Clock for tests. It never advances on its own;
// callers move it forward explicitly with Add or Set.
type Mock struct {
	c *erbsenclock.Mock
}

// NewMock returns a Clock pinned to the Unix epoch until advanced.
func NewMock() *Mock {
	return &Mock{c: erbsenclock.NewMock()}
}

func (m *Mock) Now() time.Time                      { return m.c.Now() }
func (m *Mock) After(d time.Duration) <-chan time.Time { return m.c.After(d) }

// Add advances the mock clock by d, firing any timers/After channels whose
// deadline has now passed.
func (m *Mock) Add(d time.Duration) { m.c.Add(d) }

// Set pins the mock clock to t.
func (m *Mock) Set(t time.Time) { m.c.Set(t) }
