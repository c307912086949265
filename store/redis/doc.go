// Package redis implements store.Store on Redis. Each index of a queue is
// a Sorted Set, each job is a Hash holding its current state and its
// msgpack-encoded record, and every index move runs as a Lua script so the
// state check, removal, and insertion happen as one step.
//
// All keys of one queue share a hash tag, so the store also works against
// Redis Cluster.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
