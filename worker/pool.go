package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// errLostRace means another loop claimed the candidate first.
var errLostRace = errors.New("worker: claim lost")

// Pool runs the dispatcher loops: Workers(queue) goroutines per queue,
// each claiming one job at a time through the store's compare-and-move.
type Pool struct {
	store        job.Store
	executor     *Executor
	queues       *queue.Manager
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	loopCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
	served  map[string]bool
	wake    map[string]chan struct{}

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPollInterval sets how long an idle loop sleeps before looking again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPoolClock overrides the time source used to stamp ProcessedAt.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool. queues supplies per-queue loop counts and
// rate limits; a nil manager runs one loop per queue.
func NewPool(
	store job.Store,
	executor *Executor,
	queues *queue.Manager,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if queues == nil {
		queues = queue.NewManager(1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		queues:       queues,
		pollInterval: time.Second,
		now:          time.Now,
		logger:       logger,
		served:       make(map[string]bool),
		wake:         make(map[string]chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Serve adds a queue to the pool. If the pool is running, its loops start
// immediately. Serving a queue twice is a no-op.
func (p *Pool) Serve(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.served[name] {
		return
	}
	p.served[name] = true
	p.wake[name] = make(chan struct{}, 1)
	if p.running {
		p.startLoops(name)
	}
}

// Queues returns the served queues, sorted.
func (p *Pool) Queues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.served))
	for name := range p.served {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Notify wakes one idle loop of queue. It never blocks.
func (p *Pool) Notify(name string) {
	p.mu.Lock()
	ch := p.wake[name]
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start launches the loops of every served queue. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.loopCtx, p.stopAll = context.WithCancel(context.Background())

	names := make([]string, 0, len(p.served))
	for name := range p.served {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p.startLoops(name)
	}
	p.logger.Info("worker pool started", slog.Any("queues", names))
	return nil
}

// startLoops must be called with p.mu held.
func (p *Pool) startLoops(name string) {
	n := p.queues.Workers(name)
	for range n {
		p.wg.Add(1)
		go p.loop(p.loopCtx, name, p.wake[name], p.stopCh)
	}
	p.logger.Debug("queue loops started", slog.String("queue", name), slog.Int("workers", n))
}

// Stop stops claiming new jobs and waits for in-flight attempts until ctx
// ends. Attempts still running then are cancelled and abandoned: their
// jobs stay in the active index and Stop returns without waiting for them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.stopAll()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		n := p.cancelActiveJobs()
		p.logger.Warn("worker pool shutdown grace exceeded, abandoning active jobs",
			slog.Int("abandoned", n),
		)
	}
	return nil
}

// loop is run by each dispatcher goroutine.
func (p *Pool) loop(ctx context.Context, name string, wake, stopCh <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		j, err := p.claim(ctx, name)
		switch {
		case errors.Is(err, errLostRace):
			continue
		case err != nil:
			if ctx.Err() == nil {
				p.logger.Error("claim error",
					slog.String("queue", name),
					slog.String("error", err.Error()),
				)
			}
			p.sleep(wake, stopCh)
			continue
		case j == nil:
			p.sleep(wake, stopCh)
			continue
		}

		p.run(j)
	}
}

// claim pops the head of the waiting index and moves it to active.
func (p *Pool) claim(ctx context.Context, name string) (*job.Job, error) {
	ids, err := p.store.RangeByScore(ctx, name, job.StateWaiting, job.MaxScore, 1)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	if err := p.queues.Wait(ctx, name); err != nil {
		return nil, err
	}

	j, err := p.store.GetJob(ctx, name, ids[0])
	if errors.Is(err, backlog.ErrJobNotFound) {
		return nil, errLostRace
	}
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	j.State = job.StateActive
	j.Attempts++
	j.ProcessedAt = &now

	err = p.store.MoveJob(ctx, j, job.StateWaiting)
	if errors.Is(err, backlog.ErrJobMoved) || errors.Is(err, backlog.ErrJobNotFound) {
		return nil, errLostRace
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (p *Pool) run(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := j.Queue + "/" + j.ID.String()
	p.trackJob(key, cancel)
	defer p.untrackJob(key)

	if err := p.executor.Execute(ctx, j); err != nil {
		var herr *job.HandlerError
		if !errors.As(err, &herr) && !errors.Is(err, ErrAbandoned) && !errors.Is(err, backlog.ErrJobMoved) {
			p.logger.Error("job outcome not recorded",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) sleep(wake, stopCh <-chan struct{}) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-wake:
	case <-stopCh:
	}
}

func (p *Pool) trackJob(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	delete(p.activeJobs, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job", key))
		cancel()
	}
	return len(p.activeJobs)
}
