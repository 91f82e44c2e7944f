// Package health tracks backend reachability from call outcomes.
package health

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultThreshold is the consecutive-failure count that marks the
	// backend unhealthy.
	DefaultThreshold = 3

	// DefaultCooldown is how often a probe is allowed while unhealthy.
	DefaultCooldown = 15 * time.Second
)

// Config configures a Breaker. Zero values fall back to the defaults.
type Config struct {
	Threshold int
	Cooldown  time.Duration
}

// Breaker counts consecutive backend failures. All methods are safe for
// concurrent use and tolerate a nil receiver (a nil breaker is always
// healthy).
type Breaker struct {
	threshold int64
	cooldown  time.Duration

	consecutiveFailures atomic.Int64
	lastProbe           atomic.Int64 // unix nanos of the last allowed probe
}

func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Breaker{threshold: int64(cfg.Threshold), cooldown: cfg.Cooldown}
}

// OnSuccess clears the failure streak.
func (b *Breaker) OnSuccess() {
	if b == nil {
		return
	}
	b.consecutiveFailures.Store(0)
}

// OnError extends the failure streak.
func (b *Breaker) OnError() {
	if b == nil {
		return
	}
	b.consecutiveFailures.Add(1)
}

// Healthy reports whether the failure streak is below the threshold.
func (b *Breaker) Healthy() bool {
	if b == nil {
		return true
	}
	return b.consecutiveFailures.Load() < b.threshold
}

// Failures returns the current streak length.
func (b *Breaker) Failures() int {
	if b == nil {
		return 0
	}
	return int(b.consecutiveFailures.Load())
}

// Allow reports whether a backend call should be attempted now. While
// healthy it always returns true; while unhealthy it returns true at most
// once per cooldown, so the next success can clear the streak.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	if b.Healthy() {
		return true
	}
	now := time.Now().UnixNano()
	last := b.lastProbe.Load()
	if now-last < int64(b.cooldown) {
		return false
	}
	return b.lastProbe.CompareAndSwap(last, now)
}
