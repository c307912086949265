package ext

import (
	"context"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is persisted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker loop claims a job, before the handler
// runs.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job reaches the completed index.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a failed attempt is moved to delayed.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job reaches the failed index.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// RecurringFired is called when a recurring definition enqueues a job.
type RecurringFired interface {
	OnRecurringFired(ctx context.Context, key string, jobID id.JobID) error
}

// CacheInvalidated is called after a pattern is removed from the local
// cache. remote is true when the request came from another instance.
type CacheInvalidated interface {
	OnCacheInvalidated(ctx context.Context, pattern, source string, removed int, remote bool) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
