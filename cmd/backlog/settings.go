package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xraph/backlog"
	audithook "github.com/xraph/backlog/audit_hook"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/invalidate"
	"github.com/xraph/backlog/store"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/store/postgres"
	"github.com/xraph/backlog/store/redis"
)

const envPrefix = "BACKLOG_"

// settings is the resolved CLI configuration. Values come from flag
// defaults, then BACKLOG_* variables (a .env file included), then flags
// set on the command line.
type settings struct {
	envFile      string
	backend      string
	redisAddr    string
	redisDB      int
	postgresDSN  string
	queues       []string
	workers      int
	pollInterval time.Duration
	promote      time.Duration
	recurring    time.Duration
	cleanup      time.Duration
	retention    time.Duration
	shutdown     time.Duration
	staleActive  time.Duration
	channel      string
	logLevel     string
	audit        bool

	logger *slog.Logger
}

func defaultSettings() *settings {
	cfg := backlog.DefaultConfig()
	return &settings{
		envFile:      ".env",
		backend:      "redis",
		redisAddr:    "localhost:6379",
		queues:       cfg.Queues,
		workers:      cfg.WorkersPerQueue,
		pollInterval: cfg.PollInterval,
		promote:      cfg.PromoteInterval,
		recurring:    cfg.RecurringInterval,
		cleanup:      cfg.CleanupInterval,
		retention:    cfg.Retention,
		shutdown:     cfg.ShutdownTimeout,
		channel:      cfg.InvalidationChannel,
		logLevel:     "info",
	}
}

func (s *settings) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&s.envFile, "env-file", s.envFile, "dotenv file to load")
	f.StringVar(&s.backend, "store", s.backend, "store backend: memory, redis, or postgres")
	f.StringVar(&s.redisAddr, "redis-addr", s.redisAddr, "Redis address")
	f.IntVar(&s.redisDB, "redis-db", s.redisDB, "Redis database")
	f.StringVar(&s.postgresDSN, "postgres-dsn", s.postgresDSN, "PostgreSQL connection string")
	f.StringSliceVar(&s.queues, "queues", s.queues, "queues to serve at start")
	f.IntVar(&s.workers, "workers", s.workers, "loop instances per queue")
	f.DurationVar(&s.pollInterval, "poll-interval", s.pollInterval, "idle loop poll interval")
	f.DurationVar(&s.promote, "promote-interval", s.promote, "delayed job promotion interval")
	f.DurationVar(&s.recurring, "recurring-interval", s.recurring, "recurring trigger interval")
	f.DurationVar(&s.cleanup, "cleanup-interval", s.cleanup, "cleanup sweep interval")
	f.DurationVar(&s.retention, "retention", s.retention, "how long completed and failed jobs are kept")
	f.DurationVar(&s.shutdown, "shutdown-timeout", s.shutdown, "grace period for active jobs on stop")
	f.DurationVar(&s.staleActive, "stale-active-after", s.staleActive, "requeue jobs active for longer than this (0 disables)")
	f.StringVar(&s.channel, "invalidation-channel", s.channel, "cache invalidation pub/sub channel")
	f.StringVar(&s.logLevel, "log-level", s.logLevel, "log level: debug, info, warn, error")
	f.BoolVar(&s.audit, "audit", s.audit, "log an audit record for every lifecycle event")
}

// resolve loads the dotenv file and applies BACKLOG_* variables to every
// flag not set explicitly.
func (s *settings) resolve(cmd *cobra.Command) error {
	if err := godotenv.Load(s.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", s.envFile, err)
	}

	var errs []error
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			if err := f.Value.Set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (s *settings) options(st store.Store) []backlog.Option {
	return []backlog.Option{
		backlog.WithStore(st),
		backlog.WithLogger(s.logger),
		backlog.WithQueues(s.queues...),
		backlog.WithWorkersPerQueue(s.workers),
		backlog.WithPollInterval(s.pollInterval),
		backlog.WithPromoteInterval(s.promote),
		backlog.WithRecurringInterval(s.recurring),
		backlog.WithCleanup(s.cleanup, s.retention),
		backlog.WithShutdownTimeout(s.shutdown),
		backlog.WithStaleActiveAfter(s.staleActive),
		backlog.WithInvalidationChannel(s.channel),
	}
}

// runtime is an opened store plus the engine built over it.
type runtime struct {
	engine *engine.Engine
	redis  goredis.UniversalClient
}

// open connects the configured backend, migrates it, and builds an engine.
// With Redis the engine also gets invalidation over Redis pub/sub.
func (s *settings) open(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	var (
		st  store.Store
		err error
	)
	switch s.backend {
	case "memory":
		st = memory.New()
	case "redis":
		rt.redis = goredis.NewClient(&goredis.Options{Addr: s.redisAddr, DB: s.redisDB})
		st = redis.New(rt.redis, redis.WithLogger(s.logger))
	case "postgres":
		st, err = postgres.New(ctx, s.postgresDSN, postgres.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store %q", s.backend)
	}

	if err := st.Migrate(ctx); err != nil {
		rt.closeClient()
		_ = st.Close()
		return nil, err
	}

	d, err := backlog.New(s.options(st)...)
	if err != nil {
		rt.closeClient()
		_ = st.Close()
		return nil, err
	}

	var engOpts []engine.Option
	if s.audit {
		engOpts = append(engOpts, engine.WithExtension(audithook.New(
			audithook.LogRecorder(s.logger),
			audithook.WithLogger(s.logger),
		)))
	}
	if rt.redis != nil {
		engOpts = append(engOpts, engine.WithInvalidation(
			invalidate.NewRedisCache(rt.redis, 0),
			invalidate.NewRedisBroker(rt.redis, s.logger),
		))
	}
	rt.engine, err = engine.Build(d, engOpts...)
	if err != nil {
		rt.closeClient()
		_ = st.Close()
		return nil, err
	}
	return rt, nil
}

// close stops the engine, which closes the store, then the Redis client.
func (rt *runtime) close(ctx context.Context) error {
	err := rt.engine.Stop(ctx)
	rt.closeClient()
	return err
}

func (rt *runtime) closeClient() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
