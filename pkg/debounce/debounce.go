// Package debounce provides a time gate for operations that must not run
// more often than an interval.
package debounce

import (
	"sync"
	"time"
)

// Gate tracks when an action last ran. Ready never mutates; callers Mark
// only when the action actually proceeds, so rejected runs do not push the
// window forward.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// New builds a gate. A non-positive interval means always ready.
func New(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

func (g *Gate) SetInterval(interval time.Duration) {
	g.mu.Lock()
	g.interval = interval
	g.mu.Unlock()
}

// Ready reports whether the interval has passed since the last Mark, and
// how long ago that was.
func (g *Gate) Ready(now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.interval <= 0 {
		return true, 0
	}
	if g.last.IsZero() {
		return true, g.interval
	}
	since := now.Sub(g.last)
	return since >= g.interval, since
}

// Mark records that the action ran.
func (g *Gate) Mark(now time.Time) {
	g.mu.Lock()
	g.last = now
	g.mu.Unlock()
}

// Reset forgets the last run; the next Ready reports true.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}
