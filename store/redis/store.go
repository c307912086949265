package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ job.Store  = (*Store)(nil)
	_ cron.Store = (*Store)(nil)
)

const backend = "redis"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first moves skip the EVAL fallback.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range []*goredis.Script{createScript, moveScript, deleteScript, advanceScript} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return backlog.NewStoreError(backend, "load scripts", err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return backlog.NewStoreError(backend, "ping", s.client.Ping(ctx).Err())
}

// Close is a no-op; the caller owns the Redis client.
func (s *Store) Close() error { return nil }

func wrap(op string, err error) error {
	return backlog.NewStoreError(backend, op, err)
}
