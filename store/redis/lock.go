package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/lock"
)

// Locks are Redis hashes with a millisecond TTL; key expiry IS lease
// expiry, so a vanished key means the lock is free. Ownership checks run
// as Lua scripts so check-and-write is a single Redis operation.

// acquireScript grants the lease when the key is absent (free or expired)
// or already held by the caller. A same-holder re-acquire keeps the
// original acquired_at. Returns the acquired_at value, or false when a
// foreign lease is live.
var acquireScript = goredis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder ~= false and holder ~= ARGV[1] then
	return false
end
local acquired = ARGV[2]
if holder == ARGV[1] then
	acquired = redis.call('HGET', KEYS[1], 'acquired_at')
end
redis.call('HSET', KEYS[1], 'holder_id', ARGV[1], 'acquired_at', acquired, 'expires_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return acquired
`)

// releaseScript deletes the lock only when the caller holds it.
// Returns -1 when no lock exists, 0 on holder mismatch, 1 on delete.
var releaseScript = goredis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false then
	return -1
end
if holder ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// renewScript pushes out the expiry only when the caller holds the lock.
// Returns -1 when no lock exists, 0 on holder mismatch, 1 on renewal.
var renewScript = goredis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false then
	return -1
end
if holder ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// AcquireLock grants a lease on runID to holderID for ttl.
func (s *Store) AcquireLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	res, err := acquireScript.Run(ctx, s.client, []string{lockKey(runID.String())},
		holderID.String(),
		now.Format(time.RFC3339Nano),
		expires.Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, durable.ErrLockHeld
		}
		return nil, fmt.Errorf("durable/redis: acquire lock: %w", err)
	}

	acquiredRaw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("durable/redis: acquire lock: unexpected reply %T", res)
	}
	acquired, err := time.Parse(time.RFC3339Nano, acquiredRaw)
	if err != nil {
		return nil, fmt.Errorf("durable/redis: acquire lock: parse acquired_at: %w", err)
	}

	return &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: acquired,
		ExpiresAt:  expires,
	}, nil
}

// ReleaseLock drops the lease. Releasing a missing or expired lock is a
// no-op.
func (s *Store) ReleaseLock(ctx context.Context, runID id.RunID, holderID id.WorkerID) error {
	res, err := releaseScript.Run(ctx, s.client, []string{lockKey(runID.String())},
		holderID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("durable/redis: release lock: %w", err)
	}
	if res == 0 {
		return durable.ErrNotLockHolder
	}
	return nil
}

// RenewLock extends the lease's expiry by ttl from now.
func (s *Store) RenewLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	expires := time.Now().UTC().Add(ttl)

	res, err := renewScript.Run(ctx, s.client, []string{lockKey(runID.String())},
		holderID.String(),
		expires.Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: renew lock: %w", err)
	}
	switch res {
	case -1:
		return nil, durable.ErrLockNotFound
	case 0:
		return nil, durable.ErrNotLockHolder
	}

	return s.GetLock(ctx, runID)
}

// GetLock returns the current lock record. Expired locks vanish with
// their key, so this only ever reports live leases.
func (s *Store) GetLock(ctx context.Context, runID id.RunID) (*lock.Lock, error) {
	fields, err := s.client.HGetAll(ctx, lockKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get lock: %w", err)
	}
	if len(fields) == 0 {
		return nil, durable.ErrLockNotFound
	}

	holderID, err := id.ParseWorkerID(fields["holder_id"])
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get lock: parse holder id: %w", err)
	}
	acquired, err := time.Parse(time.RFC3339Nano, fields["acquired_at"])
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get lock: parse acquired_at: %w", err)
	}
	expires, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get lock: parse expires_at: %w", err)
	}

	return &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: acquired,
		ExpiresAt:  expires,
	}, nil
}
