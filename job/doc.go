// Package job defines the job entity, its per-job options, the handler
// registry, and the store contract that every backend implements.
//
// A job lives in exactly one of five per-queue indices at any instant:
//
//	delayed ──► waiting ──► active ──► completed
//	                ▲          │
//	                └─delayed◄─┤ (retry)
//	                           └──► failed
//
// The State field names both the lifecycle state and the index that holds
// the job. Every transition is a compare-and-move in the store: the job is
// removed from the index it was read from and inserted into the new one in
// a single atomic step, or the move fails with backlog.ErrJobMoved.
package job
