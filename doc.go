// Package durable is the reliability substrate for a multi-tenant workflow
// automation platform. It turns external events into multi-step, long-running
// executions that survive worker crashes, duplicate triggers, and concurrent
// claims.
//
// The core primitives are:
//
//   - a durable job lifecycle store (claim / heartbeat / complete / fail /
//     dead-letter) in package job,
//   - a job queue with at-least-once delivery and ack/nack semantics in
//     package queue,
//   - a versioned checkpoint manager for step-level resume in package run,
//   - an idempotency store deduplicating externally-triggered executions in
//     package idem,
//   - a distributed run lock in package lock,
//   - a retry and circuit-breaker layer in package resilience, driven by the
//     error taxonomy in package fault.
//
// Durable is designed as a library, not a service. Construct an engine.Core
// with a store backend and register job definitions as ordinary Go functions:
//
//	core, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithQueue(queue.NewMemory()),
//	)
//
// All cross-worker coordination happens through the shared store using
// read-then-conditional-write operations. There is no in-process shared
// state across worker instances; heartbeats are the only liveness signal
// and expired leases are reclaimable by any worker.
package durable
