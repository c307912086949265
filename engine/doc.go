// Package engine wires the backlog subsystems together and provides the
// producer-facing API: adding jobs, registering handlers, reading job
// records and queue stats, scheduling recurring jobs, and invalidating
// caches across instances.
//
// The engine sits above every subsystem package and below the
// application. The root backlog package holds configuration and the
// Dispatcher lifecycle and cannot import the subsystems back.
//
// # Building an Engine
//
//	d, err := backlog.New(
//	    backlog.WithStore(redisStore),
//	    backlog.WithQueues("default", "emails"),
//	    backlog.WithWorkersPerQueue(4),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueConfig(queue.Config{Name: "emails", Workers: 2, RateLimit: 50}),
//	    engine.WithInvalidation(cache, invalidate.NewRedisBroker(client, logger)),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//	eng.RegisterHandler("report.build", buildReport)
//
// # Adding Jobs
//
//	id, err := engine.Enqueue(ctx, eng, "emails", "send-email", EmailInput{To: "user@example.com"},
//	    job.WithPriority(10),
//	    job.WithDelay(5*time.Minute),
//	)
//
// # Recurring Jobs
//
//	eng.ScheduleRecurring(ctx, "reports", "report.build", "0 9 * * *", nil)
//	eng.ScheduleRecurring(ctx, "default", engine.InvalidateJobType, "@every 10m",
//	    []byte(`{"pattern":"dashboard:*"}`))
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithQueueConfig] configures per-queue loop counts and rate limits
//   - [WithMaxBackoff] caps retry delays
//   - [WithInvalidation] enables cache invalidation fan-out
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
