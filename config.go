package backlog

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Queues is the list of queues this dispatcher runs loops for at start.
	// Queues that appear later in the store get loops on demand.
	Queues []string

	// WorkersPerQueue is the number of loop instances per queue.
	WorkersPerQueue int

	// PollInterval is how long an idle loop sleeps before looking again.
	PollInterval time.Duration

	// PromoteInterval is how often delayed jobs are checked for promotion.
	PromoteInterval time.Duration

	// PromoteBatch caps the delayed jobs promoted per queue per sweep.
	PromoteBatch int

	// RecurringInterval is how often recurring definitions are checked.
	RecurringInterval time.Duration

	// CleanupInterval is how often terminal jobs are checked for expiry.
	CleanupInterval time.Duration

	// Retention is how long completed and failed jobs are kept.
	Retention time.Duration

	// CleanupBatch caps the records removed per queue and index per sweep.
	CleanupBatch int

	// ShutdownTimeout is the grace period for active jobs on Stop.
	ShutdownTimeout time.Duration

	// StaleActiveAfter requeues jobs left in active for longer than this.
	// Zero disables requeueing.
	StaleActiveAfter time.Duration

	// InvalidationChannel is the pub/sub channel for cache invalidation.
	InvalidationChannel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queues:              []string{"default"},
		WorkersPerQueue:     1,
		PollInterval:        1 * time.Second,
		PromoteInterval:     5 * time.Second,
		PromoteBatch:        100,
		RecurringInterval:   60 * time.Second,
		CleanupInterval:     5 * time.Minute,
		Retention:           7 * 24 * time.Hour,
		CleanupBatch:        500,
		ShutdownTimeout:     30 * time.Second,
		InvalidationChannel: "cache:invalidate",
	}
}
