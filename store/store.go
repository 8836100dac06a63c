// Package store defines the aggregate persistence interface. Each subsystem
// (job, run, lock, idem) defines its own store interface. The composite
// Store composes them all. Backends: Postgres, Mongo, Redis, and Memory.
package store

import (
	"context"

	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/run"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, mongo, memory) implements all of them. The redis backend is
// the exception: it serves only the transient primitives (lock + idem).
type Store interface {
	job.Store
	run.Store
	lock.Store
	idem.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
