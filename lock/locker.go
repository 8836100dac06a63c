package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/resilience"
)

// Locker wraps a Store with conflict retry and taxonomy errors. A
// contended acquire is retried per the lock preset (constant 1s delay,
// 5 attempts) before surfacing a lock-conflict error.
type Locker struct {
	store  Store
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithRetryConfig overrides the conflict retry preset.
func WithRetryConfig(cfg resilience.RetryConfig) LockerOption {
	return func(l *Locker) { l.retry = cfg }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) { l.logger = logger }
}

// NewLocker creates a Locker with the default conflict retry preset.
func NewLocker(store Store, opts ...LockerOption) *Locker {
	l := &Locker{
		store:  store,
		retry:  resilience.LockRetryConfig(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Acquire obtains the lease on runID for holderID, retrying contention
// per the configured preset. The retry loop sees the raw held-lock error;
// only after the budget is exhausted is the result wrapped with
// fault.CodeLockConflict (non-retryable, so it propagates unchanged) with
// the current holder recorded in its context.
func (l *Locker) Acquire(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*Lock, error) {
	lk, err := resilience.RetryValue(ctx, l.retry, func(ctx context.Context) (*Lock, error) {
		return l.store.AcquireLock(ctx, runID, holderID, ttl)
	})
	if err != nil {
		if errors.Is(err, durable.ErrLockHeld) {
			return nil, fmt.Errorf("lock: acquire %s: %w", runID, l.conflict(ctx, runID, err))
		}
		return nil, fmt.Errorf("lock: acquire %s: %w", runID, err)
	}

	l.logger.Debug("lock acquired",
		slog.String("run_id", runID.String()),
		slog.String("holder_id", holderID.String()),
		slog.Time("expires_at", lk.ExpiresAt),
	)
	return lk, nil
}

// conflict wraps a held-lock error with the taxonomy code and, when the
// current holder is readable, records it for the caller's audit trail.
func (l *Locker) conflict(ctx context.Context, runID id.RunID, cause error) error {
	fe := fault.Wrap(fault.CodeLockConflict, fmt.Sprintf("run %s is locked", runID), cause)
	if current, err := l.store.GetLock(ctx, runID); err == nil {
		fe = fe.WithContext("holder_id", current.HolderID.String())
	}
	return fe
}

// Release drops the lease. Releasing a missing or expired lock is a
// no-op.
func (l *Locker) Release(ctx context.Context, runID id.RunID, holderID id.WorkerID) error {
	if err := l.store.ReleaseLock(ctx, runID, holderID); err != nil {
		return fmt.Errorf("lock: release %s: %w", runID, err)
	}
	return nil
}

// Renew extends the lease by ttl from now. A renew failure means the
// lease was lost; the caller must abort its attempt.
func (l *Locker) Renew(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*Lock, error) {
	lk, err := l.store.RenewLock(ctx, runID, holderID, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock: renew %s: %w", runID, err)
	}
	return lk, nil
}

// WithLock acquires the lease, runs fn, and releases the lease afterwards
// even when fn fails. The release error is ignored when fn already failed.
func (l *Locker) WithLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration, fn func(ctx context.Context) error) error {
	if _, err := l.Acquire(ctx, runID, holderID, ttl); err != nil {
		return err
	}

	fnErr := fn(ctx)

	if err := l.Release(ctx, runID, holderID); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
