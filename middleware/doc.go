// Package middleware provides composable middleware around handler
// invocation.
//
// A [Middleware] wraps the call that runs one job attempt. Middleware are
// composed with [Chain] and applied right-to-left: the first middleware in
// the slice is the outermost wrapper.
//
//	// tracing → metrics → logging → recover → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Tracing(), middleware.Metrics(),
//	    middleware.Logging(logger), middleware.Recover(logger),
//	    middleware.Timeout(logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs type, queue, attempt, duration, and outcome
//   - [Recover] converts panics to errors
//   - [Timeout] races the handler against the job's timeout
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records per-attempt duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
