// Package sweeper holds the periodic maintenance passes over the job
// store: the Promoter moves due delayed jobs into waiting (and, when
// enabled, requeues jobs stuck in active), and the Cleaner deletes
// completed and failed jobs past their retention window.
//
// Both expose Sweep for a single deterministic pass and Start/Stop for the
// background ticker.
package sweeper
