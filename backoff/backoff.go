// Package backoff computes how long a failed job waits before its next
// attempt. All strategies are safe for concurrent use (they are stateless).
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

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(exponent(e.Initial, attempt), e.Max)
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
	base := capped(exponent(e.Initial, attempt), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func exponent(initial time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	return float64(initial) * math.Pow(2, float64(attempt-1))
}

func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Type names a backoff policy.
type Type string

const (
	// TypeFixed waits Delay before every retry.
	TypeFixed Type = "fixed"

	// TypeExponential waits Delay * 2^(n-1) before retry n.
	TypeExponential Type = "exponential"
)

// Policy is the serializable retry configuration carried by every job.
type Policy struct {
	Type     Type          `json:"type"                bson:"type"                validate:"omitempty,oneof=fixed exponential"`
	Delay    time.Duration `json:"delay"               bson:"delay"               validate:"gte=0"`
	MaxDelay time.Duration `json:"max_delay,omitempty" bson:"max_delay,omitempty" validate:"gte=0"`
	Jitter   bool          `json:"jitter,omitempty"    bson:"jitter,omitempty"`
}

// FixedPolicy returns a Policy that always waits d.
func FixedPolicy(d time.Duration) Policy {
	return Policy{Type: TypeFixed, Delay: d}
}

// ExponentialPolicy returns a Policy doubling from base.
func ExponentialPolicy(base time.Duration) Policy {
	return Policy{Type: TypeExponential, Delay: base}
}

// Strategy returns the Strategy implementing p. An empty Type behaves as
// fixed.
func (p Policy) Strategy() Strategy {
	if p.Type == TypeExponential {
		if p.Jitter {
			return NewExponentialWithJitter(p.Delay, p.MaxDelay)
		}
		return NewExponential(p.Delay, p.MaxDelay)
	}
	if p.MaxDelay > 0 && p.Delay > p.MaxDelay {
		return NewConstant(p.MaxDelay)
	}
	return NewConstant(p.Delay)
}

// NextAttempt returns the delay before the next attempt of a job that has
// now failed attemptsMade times.
func NextAttempt(attemptsMade int, p Policy) time.Duration {
	return p.Strategy().Delay(attemptsMade)
}
