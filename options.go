package backlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is a background subsystem started and stopped with the
// Dispatcher: the worker pool, the sweepers, the invalidation listener.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for queue processing. It owns the
// configuration, logger, and store, and starts the subsystems attached to
// it in order.
//
// Create one with New() and functional options, then hand it to
// engine.Build, which attaches the worker pool and sweepers.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter

	mu      sync.Mutex
	runners []Runner
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AddRunner attaches a subsystem. Runners start in the order added and
// stop in reverse.
func (d *Dispatcher) AddRunner(r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners = append(d.runners, r)
}

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Started reports whether Start has completed and Stop has not been called.
func (d *Dispatcher) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Start starts every attached runner. If one fails, the runners already
// started are stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store == nil {
		return ErrNoStore
	}
	if d.started {
		return nil
	}
	for i, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := d.runners[j].Stop(ctx); stopErr != nil {
					d.logger.Error("runner stop error", slog.String("error", stopErr.Error()))
				}
			}
			return err
		}
	}
	d.started = true
	return nil
}

// Stop stops every runner in reverse order, emits the shutdown hook, and
// closes the store. The context bounds how long active jobs may keep
// running; without a deadline the configured ShutdownTimeout applies.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	runners := d.runners
	wasStarted := d.started
	d.started = false
	d.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && d.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
		defer cancel()
	}

	if wasStarted {
		for i := len(runners) - 1; i >= 0; i-- {
			if err := runners[i].Stop(ctx); err != nil {
				d.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithQueues sets the queues the dispatcher starts loops for.
func WithQueues(queues ...string) Option {
	return func(d *Dispatcher) error {
		d.config.Queues = queues
		return nil
	}
}

// WithWorkersPerQueue sets the number of loop instances per queue.
func WithWorkersPerQueue(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			n = 1
		}
		d.config.WorkersPerQueue = n
		return nil
	}
}

// WithPollInterval sets how long an idle queue loop waits between looks.
func WithPollInterval(p time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = p
		return nil
	}
}

// WithPromoteInterval sets the delayed-job promotion period.
func WithPromoteInterval(p time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PromoteInterval = p
		return nil
	}
}

// WithRecurringInterval sets the recurring trigger period.
func WithRecurringInterval(p time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RecurringInterval = p
		return nil
	}
}

// WithCleanup sets the cleanup period and retention window.
func WithCleanup(interval, retention time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.CleanupInterval = interval
		d.config.Retention = retention
		return nil
	}
}

// WithShutdownTimeout sets the grace period for active jobs on Stop.
func WithShutdownTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = t
		return nil
	}
}

// WithStaleActiveAfter enables requeueing of jobs stuck in active.
func WithStaleActiveAfter(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.StaleActiveAfter = t
		return nil
	}
}

// WithInvalidationChannel sets the pub/sub channel for cache invalidation.
func WithInvalidationChannel(ch string) Option {
	return func(d *Dispatcher) error {
		d.config.InvalidationChannel = ch
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
