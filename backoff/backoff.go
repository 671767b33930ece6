// Package backoff provides pluggable retry delay strategies.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retryable job re-enters the backlog.
type Strategy interface {
	// Delay returns how long to wait given the job's retry count at the
	// moment of failure. A count of 0 is the first failure.
	Delay(retryCount int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of retry count.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with each retry.
// Delay = min(Base * 2^retryCount, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^retryCount, capped at Max.
func (e *Exponential) Delay(retryCount int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(retryCount)))
	if e.Max > 0 && (d > e.Max || d <= 0) {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^retryCount, Max)].
// This prevents thundering herd when many retries land simultaneously.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^retryCount, Max)].
func (e *ExponentialWithJitter) Delay(retryCount int) time.Duration {
	ceiling := float64(e.Base) * math.Pow(2, float64(retryCount))
	if e.Max > 0 && (ceiling > float64(e.Max) || ceiling <= 0) {
		ceiling = float64(e.Max)
	}
	return time.Duration(rand.Float64() * ceiling) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// Exponential with 500ms base and 1m cap.
func DefaultStrategy() Strategy {
	return NewExponential(500*time.Millisecond, time.Minute)
}
