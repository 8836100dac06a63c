// Package redis implements the run-lock and idempotency store interfaces
// on Redis. Locks lean on key TTLs for expiry and Lua scripts for
// check-and-write atomicity; idempotency records are JSON documents
// updated via compare-and-swap.
//
// This backend is coordination-only: pair it with a durable job/run store
// (postgres or mongo) for the rest of the system.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
