// Package cron implements recurring job definitions and the trigger that
// turns them into job instances.
//
// A [Definition] is keyed by "queue:type"; at most one exists per key.
// Schedules use the standard 5-field cron syntax plus descriptors such as
// "@hourly" or "@every 30s".
//
// The [Scheduler] sweeps all definitions periodically. For each one whose
// NextRunAt has passed it first advances NextRunAt with a compare-and-swap
// against the value it read, and only the winner enqueues. Instances that
// share a store therefore never double-fire, and a tick missed while the
// engine was down fires exactly once: the new NextRunAt is computed from
// the sweep time, not from the missed one.
package cron
