// Package backoff provides the retry delay strategies used by the scheduler:
// a fixed interval for job retries, a jittered fixed delay for lease
// renewal retries, and exponential backoff with full jitter for catalog
// reloads. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
// Job retries use it with the job's configured retry interval.
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
// Jitter
// ──────────────────────────────────────────────────

// Jitter returns Base spread uniformly by ±Fraction. It keeps retries light
// and fixed while stopping a fleet of nodes from retrying in lockstep.
type Jitter struct {
	Base     time.Duration
	Fraction float64
}

// NewJitter creates a jittered fixed backoff. Fraction is clamped to [0, 1].
func NewJitter(base time.Duration, fraction float64) *Jitter {
	return &Jitter{Base: base, Fraction: math.Max(0, math.Min(1, fraction))}
}

// Delay returns a random duration in [Base*(1-Fraction), Base*(1+Fraction)].
func (j *Jitter) Delay(_ int) time.Duration {
	spread := float64(j.Base) * j.Fraction
	return time.Duration(float64(j.Base) - spread + rand.Float64()*2*spread) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}
