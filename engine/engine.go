package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/invalidate"
	"github.com/xraph/backlog/job"
	mw "github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/observability"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store"
	"github.com/xraph/backlog/sweeper"
	"github.com/xraph/backlog/worker"
)

const instrumentationName = "github.com/xraph/backlog"

// InvalidateJobType is the built-in job type that runs a cache
// invalidation. It is registered when the engine has an invalidator.
const InvalidateJobType job.Type = "cache.invalidate"

// InvalidatePayload is the payload of an InvalidateJobType job.
type InvalidatePayload struct {
	Pattern string `json:"pattern"`
	Source  string `json:"source"`
}

// InvalidateResult is the result of an InvalidateJobType job.
type InvalidateResult struct {
	Removed int `json:"removed"`
}

// Engine wraps a Dispatcher with the job, recurring, and invalidation
// subsystems. Use Build to create one.
type Engine struct {
	d          *backlog.Dispatcher
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	queueConfigs []queue.Config
	queues       *queue.Manager
	maxBackoff   time.Duration

	executor  *worker.Executor
	pool      *worker.Pool
	promoter  *sweeper.Promoter
	cleaner   *sweeper.Cleaner
	scheduler *cron.Scheduler

	invCache    invalidate.Cache
	invBroker   invalidate.Broker
	invOpts     []invalidate.Option
	invalidator *invalidate.Invalidator

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	depthMu  sync.Mutex
	depthReg metric.Registration

	stopped atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, inside the
// built-in recover, tracing, metrics, logging, and timeout layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig sets per-queue loop counts and rate limits. Queues not
// listed use the dispatcher's WorkersPerQueue and no rate limit.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithMaxBackoff caps retry delays. Zero leaves them uncapped.
func WithMaxBackoff(d time.Duration) Option {
	return func(eng *Engine) {
		eng.maxBackoff = d
	}
}

// WithInvalidation enables cache invalidation fan-out over broker, with
// local removals applied to cache. The invalidator listens on the
// dispatcher's InvalidationChannel.
func WithInvalidation(cache invalidate.Cache, broker invalidate.Broker, opts ...invalidate.Option) Option {
	return func(eng *Engine) {
		eng.invCache = cache
		eng.invBroker = broker
		eng.invOpts = append(eng.invOpts, opts...)
	}
}

// WithClock overrides the time source of every subsystem.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware, the observability extension, and the queue depth gauge.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher and attaches its
// subsystems to it. The Dispatcher's store must implement store.Store.
func Build(d *backlog.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	if d.Store() == nil {
		return nil, backlog.ErrNoStore
	}
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("backlog: store %T does not implement store.Store", d.Store())
	}

	eng := &Engine{
		d:          d,
		store:      s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(logger),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}

	config := d.Config()
	tracerProvider := eng.tracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	meterProvider := eng.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
		meterProvider.Meter(instrumentationName + "/observability"),
	))

	// recover → tracing → metrics → logging → timeout → user middleware.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		mw.TracingWithTracer(tracerProvider.Tracer(instrumentationName)),
		mw.MetricsWithMeter(meterProvider.Meter(instrumentationName)),
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithMiddleware(allMws...),
		worker.WithExecutorClock(eng.now),
	}
	if eng.maxBackoff > 0 {
		execOpts = append(execOpts, worker.WithMaxBackoff(eng.maxBackoff))
	}
	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, s, logger, execOpts...)

	eng.queues = queue.NewManager(config.WorkersPerQueue, eng.queueConfigs...)
	eng.pool = worker.NewPool(s, eng.executor, eng.queues, logger,
		worker.WithPollInterval(config.PollInterval),
		worker.WithPoolClock(eng.now),
	)
	for _, q := range config.Queues {
		eng.pool.Serve(q)
	}
	for _, q := range eng.queues.Configured() {
		eng.pool.Serve(q)
	}

	eng.promoter = sweeper.NewPromoter(s, logger,
		sweeper.WithPromoteInterval(config.PromoteInterval),
		sweeper.WithPromoteBatch(config.PromoteBatch),
		sweeper.WithStaleActiveAfter(config.StaleActiveAfter),
		sweeper.WithPromotedHook(eng.pool.Notify),
		sweeper.WithPromoterClock(eng.now),
	)
	eng.cleaner = sweeper.NewCleaner(s, logger,
		sweeper.WithCleanupInterval(config.CleanupInterval),
		sweeper.WithRetention(config.Retention),
		sweeper.WithCleanupBatch(config.CleanupBatch),
		sweeper.WithCleanerClock(eng.now),
	)
	eng.scheduler = cron.NewScheduler(s, eng.AddJob, eng.extensions, logger,
		cron.WithInterval(config.RecurringInterval),
		cron.WithClock(eng.now),
	)

	d.AddRunner(eng.pool)
	d.AddRunner(eng.promoter)
	d.AddRunner(eng.scheduler)
	d.AddRunner(eng.cleaner)

	if eng.invCache != nil && eng.invBroker != nil {
		invOpts := []invalidate.Option{
			invalidate.WithChannel(config.InvalidationChannel),
			invalidate.WithEmitter(eng.extensions),
			invalidate.WithClock(eng.now),
		}
		eng.invalidator = invalidate.NewInvalidator(eng.invCache, eng.invBroker, logger,
			append(invOpts, eng.invOpts...)...)
		d.AddRunner(eng.invalidator)
		job.RegisterDefinition(eng.registry, job.NewDefinition(InvalidateJobType, eng.runInvalidateJob))
	}

	d.SetExtensions(eng.extensions)
	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue JSON-encodes payload and adds a job of type typ to queue.
func Enqueue[T any](ctx context.Context, eng *Engine, queue string, typ job.Type, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("marshal payload for job %q: %w", typ, err)
	}
	return eng.AddJob(ctx, queue, typ, data, opts...)
}

// RegisterHandler binds a handler to a job type. The last registration
// for a type wins.
func (eng *Engine) RegisterHandler(typ job.Type, h job.HandlerFunc) {
	eng.registry.Register(typ, h)
}

// AddJob persists a new job. With a positive delay it is placed in the
// delayed index, otherwise it is immediately eligible in waiting. A
// running engine starts serving a queue it has not seen before.
func (eng *Engine) AddJob(ctx context.Context, queue string, typ job.Type, payload []byte, opts ...job.Option) (id.JobID, error) {
	if eng.stopped.Load() {
		return id.Nil, backlog.ErrEngineStopped
	}
	j, err := job.New(queue, typ, payload, eng.now(), opts...)
	if err != nil {
		return id.Nil, err
	}
	if err := eng.store.CreateJob(ctx, j); err != nil {
		return id.Nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.pool.Serve(queue)
	if j.State == job.StateWaiting {
		eng.pool.Notify(queue)
	}
	eng.logger.Debug("job added",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", queue),
		slog.String("type", string(typ)),
		slog.String("state", string(j.State)),
	)
	return j.ID, nil
}

// GetJob returns the current record of a job or backlog.ErrJobNotFound.
func (eng *Engine) GetJob(ctx context.Context, queue string, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, queue, jobID)
}

// GetQueueStats returns the size of every index of queue.
func (eng *Engine) GetQueueStats(ctx context.Context, queue string) (job.Counts, error) {
	return eng.store.CountJobs(ctx, queue)
}

// Stats returns index sizes for every queue known to the store.
func (eng *Engine) Stats(ctx context.Context) (map[string]job.Counts, error) {
	queues, err := eng.store.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	counts := make([]job.Counts, len(queues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, q := range queues {
		g.Go(func() error {
			c, err := eng.store.CountJobs(gctx, q)
			if err != nil {
				return fmt.Errorf("count %q: %w", q, err)
			}
			counts[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]job.Counts, len(queues))
	for i, q := range queues {
		out[q] = counts[i]
	}
	return out, nil
}

// ScheduleRecurring creates or replaces the recurring definition keyed by
// queue and typ. Re-registering an unchanged schedule keeps its pending
// next run.
func (eng *Engine) ScheduleRecurring(ctx context.Context, queue string, typ job.Type, schedule string, payload []byte, opts ...job.Option) (*cron.Definition, error) {
	// Validate the options the same way AddJob will at fire time.
	tmpl, err := job.New(queue, typ, payload, eng.now(), opts...)
	if err != nil {
		return nil, err
	}
	def := &cron.Definition{
		Queue:    queue,
		Type:     typ,
		Payload:  tmpl.Payload,
		Schedule: schedule,
		Options:  tmpl.Options,
	}
	if err := eng.scheduler.Register(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// UnscheduleRecurring removes the definition keyed by queue and typ.
func (eng *Engine) UnscheduleRecurring(ctx context.Context, queue string, typ job.Type) error {
	return eng.store.DeleteRecurring(ctx, cron.Key(queue, typ))
}

// ListRecurring returns every recurring definition.
func (eng *Engine) ListRecurring(ctx context.Context) ([]*cron.Definition, error) {
	return eng.store.ListRecurring(ctx)
}

// Invalidate removes keys matching pattern locally and broadcasts the
// request to other instances.
func (eng *Engine) Invalidate(ctx context.Context, pattern, source string) (int, error) {
	if eng.invalidator == nil {
		return 0, backlog.ErrNoInvalidator
	}
	return eng.invalidator.Invalidate(ctx, pattern, source)
}

func (eng *Engine) runInvalidateJob(ctx context.Context, p InvalidatePayload) (InvalidateResult, error) {
	source := p.Source
	if source == "" {
		source = string(InvalidateJobType)
	}
	n, err := eng.invalidator.Invalidate(ctx, p.Pattern, source)
	return InvalidateResult{Removed: n}, err
}

// Start serves every queue already present in the store, registers the
// queue depth gauge, and starts the dispatcher's subsystems.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.stopped.Load() {
		return backlog.ErrEngineStopped
	}
	queues, err := eng.store.ListQueues(ctx)
	if err != nil {
		return fmt.Errorf("list queues: %w", err)
	}
	for _, q := range queues {
		eng.pool.Serve(q)
	}

	if err := eng.registerDepth(); err != nil {
		eng.logger.Warn("queue depth gauge unavailable", slog.String("error", err.Error()))
	}
	if err := eng.d.Start(ctx); err != nil {
		eng.unregisterDepth()
		return err
	}

	eng.logger.Info("engine started",
		slog.Any("queues", eng.pool.Queues()),
		slog.Any("handlers", eng.registry.Types()),
	)
	return nil
}

// Stop stops accepting jobs, stops every subsystem, and closes the store.
// Jobs still active when ctx expires are left in the active index.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.stopped.Store(true)
	eng.unregisterDepth()
	err := eng.d.Stop(ctx)
	eng.logger.Info("engine stopped")
	return err
}

func (eng *Engine) registerDepth() error {
	eng.depthMu.Lock()
	defer eng.depthMu.Unlock()
	if eng.depthReg != nil {
		return nil
	}
	mp := eng.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	reg, err := observability.RegisterQueueDepth(mp.Meter(instrumentationName+"/observability"), eng.store)
	if err != nil {
		return err
	}
	eng.depthReg = reg
	return nil
}

func (eng *Engine) unregisterDepth() {
	eng.depthMu.Lock()
	defer eng.depthMu.Unlock()
	if eng.depthReg == nil {
		return
	}
	if err := eng.depthReg.Unregister(); err != nil {
		eng.logger.Warn("queue depth gauge unregister error", slog.String("error", err.Error()))
	}
	eng.depthReg = nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *backlog.Dispatcher { return eng.d }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Scheduler returns the recurring trigger.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Promoter returns the delayed-job promoter.
func (eng *Engine) Promoter() *sweeper.Promoter { return eng.promoter }

// Cleaner returns the cleanup sweeper.
func (eng *Engine) Cleaner() *sweeper.Cleaner { return eng.cleaner }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the per-queue configuration.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queues }

// Invalidator returns the invalidator, or nil when invalidation is not
// configured.
func (eng *Engine) Invalidator() *invalidate.Invalidator { return eng.invalidator }
