package job

import "time"

// BackoffKind selects how the retry delay grows.
type BackoffKind string

const (
	// BackoffFixed waits BaseDelay before every retry.
	BackoffFixed BackoffKind = "fixed"
	// BackoffExponential waits BaseDelay * 2^(attempts-1).
	BackoffExponential BackoffKind = "exponential"
)

// Backoff describes the retry delay of a job.
type Backoff struct {
	Kind      BackoffKind   `json:"kind"`
	BaseDelay time.Duration `json:"base_delay"`
}

// Options configures per-job behavior.
type Options struct {
	// Priority orders the waiting index. Higher values are served first.
	Priority int `json:"priority"`

	// Delay postpones the first attempt. Zero means immediate.
	Delay time.Duration `json:"delay,omitempty"`

	// MaxAttempts is the total number of handler invocations allowed.
	MaxAttempts int `json:"max_attempts"`

	// Backoff computes the wait before each retry.
	Backoff Backoff `json:"backoff"`

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     Backoff{Kind: BackoffExponential, BaseDelay: time.Second},
		Timeout:     30 * time.Second,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the job priority. Higher values are served first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay postpones the first attempt.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithFixedBackoff waits d before every retry.
func WithFixedBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.Backoff = Backoff{Kind: BackoffFixed, BaseDelay: d}
	}
}

// WithExponentialBackoff doubles the wait before each retry, starting at base.
func WithExponentialBackoff(base time.Duration) Option {
	return func(o *Options) {
		o.Backoff = Backoff{Kind: BackoffExponential, BaseDelay: base}
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithOptions replaces all options at once, e.g. from a stored recurring
// definition.
func WithOptions(src Options) Option {
	return func(o *Options) {
		*o = src
	}
}
