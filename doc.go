// Package backlog provides a multi-queue background job engine for Go:
// priority-ordered queues, retries with fixed or exponential backoff,
// delayed execution, recurring (cron) triggers, retention cleanup, and a
// cross-instance cache invalidation fan-out.
//
// Backlog is a library, not a service. Import it, configure a store, and
// register handlers as ordinary Go functions.
//
// # Quick Start
//
//	d, err := backlog.New(
//	    backlog.WithStore(redisStore),
//	    backlog.WithQueues("default", "email"),
//	)
//	eng, err := engine.Build(d)
//	eng.RegisterHandler("email.send", sendEmail)
//	jobID, err := eng.AddJob(ctx, "email", "email.send", payload)
//
// # Architecture
//
// Every job lives in exactly one per-queue index at a time: delayed,
// waiting, active, completed, or failed. All components communicate only
// through the store, and every index move is a compare-and-move, so any
// number of loops and instances may share one store. Delivery is
// at-least-once: handlers must be idempotent.
//
// All job IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package backlog
