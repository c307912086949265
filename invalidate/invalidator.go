package invalidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/backlog/id"
)

// DefaultChannel is the broadcast channel shared by all instances.
const DefaultChannel = "cache:invalidate"

// Emitter emits invalidation events. ext.Registry satisfies it.
type Emitter interface {
	EmitCacheInvalidated(ctx context.Context, pattern, source string, removed int, remote bool)
}

// Record is one locally issued invalidation request.
type Record struct {
	Pattern string
	Source  string
	At      time.Time
}

// Stats counts broadcast traffic.
type Stats struct {
	Sent     int64
	Received int64
	Ignored  int64
	Failed   int64
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithChannel sets the broadcast channel name.
func WithChannel(channel string) Option {
	return func(inv *Invalidator) { inv.channel = channel }
}

// WithHistorySize bounds the Recent history. Zero disables it.
func WithHistorySize(n int) Option {
	return func(inv *Invalidator) { inv.historySize = n }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(em Emitter) Option {
	return func(inv *Invalidator) { inv.emitter = em }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(inv *Invalidator) { inv.now = now }
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(instance string) Option {
	return func(inv *Invalidator) { inv.instance = instance }
}

// Invalidator publishes local invalidations and applies remote ones.
type Invalidator struct {
	cache   Cache
	broker  Broker
	emitter Emitter
	logger  *slog.Logger

	channel     string
	instance    string
	historySize int
	now         func() time.Time

	historyMu sync.Mutex
	history   []Record

	sent     atomic.Int64
	received atomic.Int64
	ignored  atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	running bool
	sub     Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewInvalidator creates an Invalidator over cache and broker.
func NewInvalidator(cache Cache, broker Broker, logger *slog.Logger, opts ...Option) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invalidator{
		cache:       cache,
		broker:      broker,
		logger:      logger,
		channel:     DefaultChannel,
		historySize: 100,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.instance == "" {
		inv.instance = id.NewInstanceID().String()
	}
	return inv
}

// Instance returns the id stamped on outgoing messages.
func (inv *Invalidator) Instance() string { return inv.instance }

// Channel returns the broadcast channel name.
func (inv *Invalidator) Channel() string { return inv.channel }

// Invalidate records the request, broadcasts it, then removes matching
// local keys. A publish failure does not skip the local removal; it is
// returned alongside the removed count.
func (inv *Invalidator) Invalidate(ctx context.Context, pattern, source string) (int, error) {
	if pattern == "" {
		return 0, errors.New("invalidate: empty pattern")
	}
	at := inv.now().UTC()
	inv.record(Record{Pattern: pattern, Source: source, At: at})

	msg := Message{
		Pattern:   pattern,
		Timestamp: at.Format(time.RFC3339Nano),
		Source:    source,
		Instance:  inv.instance,
	}

	var pubErr error
	payload, err := msg.Encode()
	if err == nil {
		err = inv.broker.Publish(ctx, inv.channel, payload)
	}
	if err != nil {
		pubErr = fmt.Errorf("invalidate: publish %q: %w", pattern, err)
		inv.logger.Error("invalidation publish failed",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
	} else {
		inv.sent.Add(1)
	}

	removed, err := inv.cache.DeletePattern(ctx, pattern)
	if err != nil {
		return removed, errors.Join(pubErr, fmt.Errorf("invalidate: local removal %q: %w", pattern, err))
	}
	if inv.emitter != nil {
		inv.emitter.EmitCacheInvalidated(ctx, pattern, source, removed, false)
	}
	inv.logger.Debug("cache invalidated",
		slog.String("pattern", pattern),
		slog.String("source", source),
		slog.Int("removed", removed),
	)
	return removed, pubErr
}

// Start subscribes to the channel and applies incoming messages until
// Stop. The subscription is established before Start returns.
func (inv *Invalidator) Start(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.running {
		return nil
	}

	sub, err := inv.broker.Subscribe(ctx, inv.channel)
	if err != nil {
		return fmt.Errorf("invalidate: subscribe %q: %w", inv.channel, err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	inv.sub = sub
	inv.cancel = cancel
	inv.running = true

	inv.wg.Add(1)
	go inv.listen(loopCtx, sub)
	inv.logger.Info("invalidation listener started",
		slog.String("channel", inv.channel),
		slog.String("instance", inv.instance),
	)
	return nil
}

// Stop closes the subscription and waits for the listener to exit.
func (inv *Invalidator) Stop(_ context.Context) error {
	inv.mu.Lock()
	if !inv.running {
		inv.mu.Unlock()
		return nil
	}
	inv.running = false
	sub, cancel := inv.sub, inv.cancel
	inv.sub, inv.cancel = nil, nil
	inv.mu.Unlock()

	cancel()
	err := sub.Close()
	inv.wg.Wait()
	inv.logger.Info("invalidation listener stopped", slog.String("channel", inv.channel))
	return err
}

func (inv *Invalidator) listen(ctx context.Context, sub Subscription) {
	defer inv.wg.Done()
	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			inv.apply(ctx, payload)
		}
	}
}

// apply handles one broadcast. Messages never go back out.
func (inv *Invalidator) apply(ctx context.Context, payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil {
		inv.failed.Add(1)
		inv.logger.Warn("invalid invalidation message", slog.String("error", err.Error()))
		return
	}
	if msg.Instance == inv.instance {
		inv.ignored.Add(1)
		return
	}

	removed, err := inv.cache.DeletePattern(ctx, msg.Pattern)
	if err != nil {
		inv.failed.Add(1)
		inv.logger.Error("remote invalidation failed",
			slog.String("pattern", msg.Pattern),
			slog.String("source", msg.Source),
			slog.String("error", err.Error()),
		)
		return
	}
	inv.received.Add(1)

	if inv.emitter != nil {
		inv.emitter.EmitCacheInvalidated(ctx, msg.Pattern, msg.Source, removed, true)
	}
	inv.logger.Debug("remote cache invalidation applied",
		slog.String("pattern", msg.Pattern),
		slog.String("source", msg.Source),
		slog.String("instance", msg.Instance),
		slog.Int("removed", removed),
	)
}

func (inv *Invalidator) record(r Record) {
	if inv.historySize <= 0 {
		return
	}
	inv.historyMu.Lock()
	defer inv.historyMu.Unlock()
	inv.history = append(inv.history, r)
	if over := len(inv.history) - inv.historySize; over > 0 {
		inv.history = append(inv.history[:0:0], inv.history[over:]...)
	}
}

// Recent returns the retained local requests, oldest first.
func (inv *Invalidator) Recent() []Record {
	inv.historyMu.Lock()
	defer inv.historyMu.Unlock()
	return append([]Record(nil), inv.history...)
}

// Stats returns broadcast counters.
func (inv *Invalidator) Stats() Stats {
	return Stats{
		Sent:     inv.sent.Load(),
		Received: inv.received.Load(),
		Ignored:  inv.ignored.Load(),
		Failed:   inv.failed.Load(),
	}
}
