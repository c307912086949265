package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are type-cached at registration time so emit calls only
// visit extensions that implement the relevant hook. Register all
// extensions before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued      []entry[JobEnqueued]
	jobStarted       []entry[JobStarted]
	jobCompleted     []entry[JobCompleted]
	jobRetrying      []entry[JobRetrying]
	jobFailed        []entry[JobFailed]
	recurringFired   []entry[RecurringFired]
	cacheInvalidated []entry[CacheInvalidated]
	shutdown         []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func cache[H any](dst *[]entry[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*dst = append(*dst, entry[H]{name, h})
	}
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	cache(&r.jobEnqueued, name, e)
	cache(&r.jobStarted, name, e)
	cache(&r.jobCompleted, name, e)
	cache(&r.jobRetrying, name, e)
	cache(&r.jobFailed, name, e)
	cache(&r.recurringFired, name, e)
	cache(&r.cacheInvalidated, name, e)
	cache(&r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitRecurringFired notifies all extensions that implement RecurringFired.
func (r *Registry) EmitRecurringFired(ctx context.Context, key string, jobID id.JobID) {
	for _, e := range r.recurringFired {
		if err := e.hook.OnRecurringFired(ctx, key, jobID); err != nil {
			r.logHookError("OnRecurringFired", e.name, err)
		}
	}
}

// EmitCacheInvalidated notifies all extensions that implement
// CacheInvalidated.
func (r *Registry) EmitCacheInvalidated(ctx context.Context, pattern, source string, removed int, remote bool) {
	for _, e := range r.cacheInvalidated {
		if err := e.hook.OnCacheInvalidated(ctx, pattern, source, removed, remote); err != nil {
			r.logHookError("OnCacheInvalidated", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
