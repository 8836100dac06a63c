// Package lock provides the distributed run lock: a TTL lease that
// prevents two workers from mutating the same run concurrently.
//
// Acquisition is a single transactional check-and-set on the backing
// store: it succeeds only when no unexpired lock exists for the run.
// Expiry makes the lease implicitly reclaimable by the next acquire, so
// no sweep process is needed. Ownership is advisory — any holder may have
// crashed — and is re-verified on every release and renew.
package lock

import (
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Lock is a lease on a run held by a single worker until ExpiresAt.
type Lock struct {
	RunID      id.RunID    `json:"run_id"`
	HolderID   id.WorkerID `json:"holder_id"`
	AcquiredAt time.Time   `json:"acquired_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Live reports whether the lock is unexpired as of now.
func (l *Lock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lock is live and held by holderID.
func (l *Lock) HeldBy(holderID id.WorkerID, now time.Time) bool {
	return l.HolderID == holderID && l.Live(now)
}
