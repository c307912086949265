// Package backoff computes retry delays. All strategies are stateless and
// safe for concurrent use.
package backoff

import (
	"math"
	"time"

	"github.com/xraph/backlog/job"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
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
// Delay = min(Initial * 2^(attempt-1), Max). A zero Max means no cap.
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
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f > math.MaxInt64 {
		f = math.MaxInt64
	}
	d := time.Duration(f)
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Per-job
// ──────────────────────────────────────────────────

// For returns the strategy described by a job's backoff options. Unknown
// kinds fall back to exponential. maxDelay caps exponential growth; zero
// means no cap.
func For(b job.Backoff, maxDelay time.Duration) Strategy {
	if b.Kind == job.BackoffFixed {
		return NewConstant(b.BaseDelay)
	}
	return NewExponential(b.BaseDelay, maxDelay)
}
