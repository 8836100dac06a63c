package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/lock"
)

// AcquireLock grants or extends a lease on runID. The whole decision is a
// single upsert: the DO UPDATE fires only when the existing lease is
// expired or already ours, so a live foreign lease yields zero rows.
func (s *Store) AcquireLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO durable_run_locks (run_id, holder_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			holder_id = EXCLUDED.holder_id,
			acquired_at = CASE
				WHEN durable_run_locks.holder_id = EXCLUDED.holder_id
					AND durable_run_locks.expires_at > NOW()
				THEN durable_run_locks.acquired_at
				ELSE EXCLUDED.acquired_at
			END,
			expires_at = EXCLUDED.expires_at
		WHERE durable_run_locks.expires_at <= NOW()
			OR durable_run_locks.holder_id = EXCLUDED.holder_id
		RETURNING run_id, holder_id, acquired_at, expires_at`,
		runID.String(), holderID.String(), now, expires,
	)

	l, err := scanLock(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrLockHeld
		}
		return nil, fmt.Errorf("durable/postgres: acquire lock: %w", err)
	}
	return l, nil
}

// ReleaseLock drops the lease if holderID owns it. Releasing a missing or
// expired lock is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, runID id.RunID, holderID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM durable_run_locks WHERE run_id = $1 AND holder_id = $2`,
		runID.String(), holderID.String(),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: release lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	l, getErr := s.GetLock(ctx, runID)
	if getErr != nil {
		return nil // already gone
	}
	if l.Live(time.Now().UTC()) {
		return durable.ErrNotLockHolder
	}
	return nil
}

// RenewLock extends the caller's live lease by ttl from now.
func (s *Store) RenewLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	expires := time.Now().UTC().Add(ttl)

	row := s.pool.QueryRow(ctx, `
		UPDATE durable_run_locks SET expires_at = $3
		WHERE run_id = $1 AND holder_id = $2 AND expires_at > NOW()
		RETURNING run_id, holder_id, acquired_at, expires_at`,
		runID.String(), holderID.String(), expires,
	)

	l, err := scanLock(row)
	if err == nil {
		return l, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("durable/postgres: renew lock: %w", err)
	}

	if _, getErr := s.GetLock(ctx, runID); getErr != nil {
		return nil, getErr
	}
	return nil, durable.ErrNotLockHolder
}

// GetLock returns the current lock record, expired or not.
func (s *Store) GetLock(ctx context.Context, runID id.RunID) (*lock.Lock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, holder_id, acquired_at, expires_at
		 FROM durable_run_locks WHERE run_id = $1`,
		runID.String(),
	)

	l, err := scanLock(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrLockNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get lock: %w", err)
	}
	return l, nil
}

func scanLock(row pgx.Row) (*lock.Lock, error) {
	var (
		l        lock.Lock
		runID    string
		holderID string
	)
	if err := row.Scan(&runID, &holderID, &l.AcquiredAt, &l.ExpiresAt); err != nil {
		return nil, err
	}

	parsedRun, err := id.ParseRunID(runID)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse lock run id %q: %w", runID, err)
	}
	parsedHolder, err := id.ParseWorkerID(holderID)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse lock holder id %q: %w", holderID, err)
	}
	l.RunID = parsedRun
	l.HolderID = parsedHolder
	return &l, nil
}
