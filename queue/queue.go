package queue

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Workers is the number of loop instances serving this queue in this
	// process. Zero means the engine default.
	Workers int

	// RateLimit is the maximum sustained claims per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
}

// Manager applies per-queue worker counts and rate limits. It is safe for
// concurrent use.
type Manager struct {
	mu             sync.Mutex
	defaultWorkers int
	queues         map[string]*queueState
}

// NewManager creates a Manager. defaultWorkers applies to queues without a
// Config or with Workers left at zero.
func NewManager(defaultWorkers int, configs ...Config) *Manager {
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	m := &Manager{
		defaultWorkers: defaultWorkers,
		queues:         make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Workers returns the number of loop instances for queue.
func (m *Manager) Workers(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil && qs.config.Workers > 0 {
		return qs.config.Workers
	}
	return m.defaultWorkers
}

// Wait blocks until queue's rate limit allows one more claim or ctx ends.
// Unlimited queues return immediately.
func (m *Manager) Wait(ctx context.Context, queue string) error {
	m.mu.Lock()
	var lim *rate.Limiter
	if qs := m.queues[queue]; qs != nil {
		lim = qs.limiter
	}
	m.mu.Unlock()

	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Configured returns the names of queues with an explicit Config, sorted.
func (m *Manager) Configured() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name, qs := range m.queues {
		if qs.config.Name != "" && (qs.config.Workers > 0 || qs.limiter != nil) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
