package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ErrRegisterConflict is returned when Register keeps losing the replace
// to concurrent sweeps of the same definition.
var ErrRegisterConflict = errors.New("cron: recurring definition kept changing during register")

// EnqueueFunc is the callback the scheduler uses to create job instances.
// The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, queue string, typ job.Type, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits recurring lifecycle events.
// ext.Registry satisfies this interface via EmitRecurringFired.
type Emitter interface {
	EmitRecurringFired(ctx context.Context, key string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets how often the scheduler sweeps for due definitions.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler is the recurring-job trigger.
type Scheduler struct {
	store   Store
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	interval time.Duration
	now      func() time.Time

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, enqueue EnqueueFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:    store,
		enqueue:  enqueue,
		emitter:  emitter,
		logger:   logger,
		interval: time.Minute,
		now:      time.Now,
		parsed:   make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// registerAttempts bounds how often Register retries a lost replace.
const registerAttempts = 5

// Register validates d.Schedule and saves the definition. A definition
// that already exists with the same schedule keeps its stored NextRunAt,
// so re-registering at startup does not skip a tick missed while the
// engine was down. Otherwise NextRunAt is the first tick after now.
//
// An existing definition is replaced only while its NextRunAt is the one
// Register read, so a concurrent sweep that advances it is never undone.
func (s *Scheduler) Register(ctx context.Context, d *Definition) error {
	sched, err := s.schedule(d.Schedule)
	if err != nil {
		return err
	}

	for range registerAttempts {
		now := s.now().UTC()
		d.UpdatedAt = now
		d.CreatedAt = now
		d.NextRunAt = sched.Next(now)
		d.LastRunAt = nil

		existing, err := s.store.GetRecurring(ctx, d.Key())
		if errors.Is(err, backlog.ErrRecurringNotFound) {
			if err := s.store.SaveRecurring(ctx, d); err != nil {
				return err
			}
			s.logRegistered(d)
			return nil
		}
		if err != nil {
			return err
		}

		d.CreatedAt = existing.CreatedAt
		d.LastRunAt = existing.LastRunAt
		if existing.Schedule == d.Schedule {
			d.NextRunAt = existing.NextRunAt
		}
		replaced, err := s.store.ReplaceRecurring(ctx, d, existing.NextRunAt)
		if err != nil {
			return err
		}
		if replaced {
			s.logRegistered(d)
			return nil
		}
		s.logger.Debug("recurring definition changed during register, retrying",
			slog.String("key", d.Key()),
		)
	}
	return fmt.Errorf("cron: register %s: %w", d.Key(), ErrRegisterConflict)
}

func (s *Scheduler) logRegistered(d *Definition) {
	s.logger.Info("recurring job registered",
		slog.String("key", d.Key()),
		slog.String("schedule", d.Schedule),
		slog.Time("next_run_at", d.NextRunAt),
	)
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.logger.Info("recurring trigger started", slog.Duration("interval", s.interval))
	return nil
}

// Stop signals the loop to stop and waits for the current sweep.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("recurring trigger stopped")
	return nil
}

func (s *Scheduler) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("recurring sweep error", slog.String("error", err.Error()))
		}
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Sweep fires every definition due at now and returns how many jobs it
// enqueued. Failures on one definition are logged and do not stop the
// others; only a failure to list definitions is returned.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	defs, err := s.store.ListRecurring(ctx)
	if err != nil {
		return 0, err
	}

	now = now.UTC()
	fired := 0
	for _, d := range defs {
		if d.NextRunAt.After(now) {
			continue
		}
		if s.fire(ctx, d, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fire(ctx context.Context, d *Definition, now time.Time) bool {
	key := d.Key()
	sched, err := s.schedule(d.Schedule)
	if err != nil {
		s.logger.Error("recurring schedule invalid",
			slog.String("key", key),
			slog.String("schedule", d.Schedule),
			slog.String("error", err.Error()),
		)
		return false
	}

	next := sched.Next(now)
	won, err := s.store.AdvanceRecurring(ctx, key, d.NextRunAt, next, &now)
	if err != nil {
		s.logger.Error("advance recurring error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !won {
		// Another instance fired it, or it was re-registered.
		return false
	}

	jobID, err := s.enqueue(ctx, d.Queue, d.Type, d.Payload, job.WithOptions(d.Options))
	if err != nil {
		s.logger.Error("recurring enqueue error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if _, rbErr := s.store.AdvanceRecurring(ctx, key, next, d.NextRunAt, d.LastRunAt); rbErr != nil {
			s.logger.Error("rollback recurring error",
				slog.String("key", key),
				slog.String("error", rbErr.Error()),
			)
		}
		return false
	}

	if s.emitter != nil {
		s.emitter.EmitRecurringFired(ctx, key, jobID)
	}
	s.logger.Info("recurring job fired",
		slog.String("key", key),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run_at", next),
	)
	return true
}

// schedule caches parsed cron expressions.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
