package redis

// Redis key naming conventions. Keys of one queue share the {queue} hash
// tag so a script touching them stays in one slot.

const keyPrefix = "backlog:"

// jobKey returns the Hash of a job: backlog:{queue}:job:{id}
func jobKey(queue, id string) string { return keyPrefix + "{" + queue + "}:job:" + id }

// indexKey returns the Sorted Set of one index: backlog:{queue}:{state}
func indexKey(queue, state string) string { return keyPrefix + "{" + queue + "}:" + state }

// seqKey returns the waiting-index counter: backlog:{queue}:seq
func seqKey(queue string) string { return keyPrefix + "{" + queue + "}:seq" }

// queuesKey is the Set of every queue that has held a job.
const queuesKey = keyPrefix + "queues"

// Recurring definitions live in two Hashes keyed by definition key, one
// with the encoded record and one with NextRunAt in Unix nanoseconds for
// the compare-and-swap.
const (
	recurringKey     = keyPrefix + "{recurring}:defs"
	recurringNextKey = keyPrefix + "{recurring}:next"
)
