package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.JobEnqueued      = (*Extension)(nil)
	_ ext.JobStarted       = (*Extension)(nil)
	_ ext.JobCompleted     = (*Extension)(nil)
	_ ext.JobRetrying      = (*Extension)(nil)
	_ ext.JobFailed        = (*Extension)(nil)
	_ ext.RecurringFired   = (*Extension)(nil)
	_ ext.CacheInvalidated = (*Extension)(nil)
	_ ext.Shutdown         = (*Extension)(nil)
)

// Actions, one per lifecycle hook.
const (
	ActionJobEnqueued      = "job.enqueued"
	ActionJobStarted       = "job.started"
	ActionJobCompleted     = "job.completed"
	ActionJobRetrying      = "job.retrying"
	ActionJobFailed        = "job.failed"
	ActionRecurringFired   = "recurring.fired"
	ActionCacheInvalidated = "cache.invalidated"
	ActionShutdown         = "engine.shutdown"
)

// AllActions returns every action the extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionRecurringFired,
		ActionCacheInvalidated,
		ActionShutdown,
	}
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one audit record.
type Event struct {
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	ResourceID string         `json:"resource_id,omitempty"`
	Queue      string         `json:"queue,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, evt *Event) error
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, evt *Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// LogRecorder writes events to logger: info at Info, warning at Warn,
// critical at Error.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{slog.String("action", evt.Action)}
		if evt.ResourceID != "" {
			attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
		}
		if evt.Queue != "" {
			attrs = append(attrs, slog.String("queue", evt.Queue))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Extension forwards lifecycle hooks to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.record(ctx, jobEvent(ActionJobEnqueued, SeverityInfo, j, nil,
		"state", string(j.State),
		"priority", j.Options.Priority,
	))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	e.record(ctx, jobEvent(ActionJobStarted, SeverityInfo, j, nil,
		"attempt", j.Attempts,
	))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	e.record(ctx, jobEvent(ActionJobCompleted, SeverityInfo, j, nil,
		"attempt", j.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	var reason error
	if j.Error != "" {
		reason = errString(j.Error)
	}
	e.record(ctx, jobEvent(ActionJobRetrying, SeverityWarning, j, reason,
		"attempt", attempt,
		"next_run_at", nextRunAt.UTC().Format(time.RFC3339),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	e.record(ctx, jobEvent(ActionJobFailed, SeverityCritical, j, jobErr,
		"attempts", j.Attempts,
		"max_attempts", j.Options.MaxAttempts,
	))
	return nil
}

// OnRecurringFired implements ext.RecurringFired.
func (e *Extension) OnRecurringFired(ctx context.Context, key string, jobID id.JobID) error {
	e.record(ctx, &Event{
		Action:     ActionRecurringFired,
		Severity:   SeverityInfo,
		ResourceID: key,
		Metadata:   map[string]any{"job_id": jobID.String()},
	})
	return nil
}

// OnCacheInvalidated implements ext.CacheInvalidated.
func (e *Extension) OnCacheInvalidated(ctx context.Context, pattern, source string, removed int, remote bool) error {
	e.record(ctx, &Event{
		Action:     ActionCacheInvalidated,
		Severity:   SeverityInfo,
		ResourceID: pattern,
		Metadata: map[string]any{
			"source":  source,
			"removed": removed,
			"remote":  remote,
		},
	})
	return nil
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	e.record(ctx, &Event{Action: ActionShutdown, Severity: SeverityInfo})
	return nil
}

// jobEvent builds a job event; kv pairs go into Metadata.
func jobEvent(action, severity string, j *job.Job, err error, kv ...any) *Event {
	meta := make(map[string]any, len(kv)/2+1)
	meta["type"] = string(j.Type)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			meta[key] = kv[i+1]
		}
	}
	evt := &Event{
		Action:     action,
		Severity:   severity,
		ResourceID: j.ID.String(),
		Queue:      j.Queue,
		Metadata:   meta,
	}
	if err != nil {
		evt.Reason = err.Error()
	}
	return evt
}

// record sends evt if its action is enabled. Recorder failures are logged
// and never fail the hook.
func (e *Extension) record(ctx context.Context, evt *Event) {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return
	}
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
