// Package invalidate fans cache invalidation requests out to every
// instance sharing a broadcast channel.
//
// Invalidate records the request, publishes a Message, and removes the
// matching keys from the local Cache. Other instances receive the Message
// and only remove locally; they never publish it again. Each Invalidator
// carries an instance id and drops messages stamped with its own, so the
// sender never processes its own broadcast twice.
//
// Brokers: Redis pub/sub for multi-process deployments, and an in-process
// Hub for tests and single-binary setups. Caches: an in-memory map and a
// Redis keyspace.
package invalidate
