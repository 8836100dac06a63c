package lock

import (
	"context"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Store defines the persistence contract for run locks. Every mutation is
// a transactional check-and-set: the check is always "is there a live,
// unexpired lock," never "does a lock record exist," so expired leases
// are reclaimed implicitly.
type Store interface {
	// AcquireLock grants a lease on runID to holderID for ttl. It
	// succeeds when no lock exists or the existing lock has expired.
	// Returns durable.ErrLockHeld when another holder's lease is live.
	// Re-acquiring by the current holder extends the lease.
	AcquireLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*Lock, error)

	// ReleaseLock drops the lease. Releasing a missing or expired lock is
	// a no-op; releasing a live lock held by another worker returns
	// durable.ErrNotLockHolder.
	ReleaseLock(ctx context.Context, runID id.RunID, holderID id.WorkerID) error

	// RenewLock extends the lease's expiry by ttl from now. Returns
	// durable.ErrLockNotFound if no lock exists and
	// durable.ErrNotLockHolder if the caller's lease is lost or expired.
	RenewLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*Lock, error)

	// GetLock returns the current lock record, expired or not.
	// Returns durable.ErrLockNotFound if no record exists.
	GetLock(ctx context.Context, runID id.RunID) (*Lock, error)
}
