// Package observability records backlog lifecycle metrics with
// OpenTelemetry.
//
// [MetricsExtension] is an ext.Extension that counts lifecycle events;
// the engine registers one automatically. [RegisterQueueDepth] exports the
// per-queue index sizes as an observable gauge that reads the store on
// every collection, so the numbers always match what GetQueueStats returns.
package observability
