package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
)

// Idempotency records are stored as JSON strings. Conditional updates use
// compare-and-swap on the raw document: the caller reads, decides in Go,
// and the swap only lands if the document is still byte-identical.

// casScript replaces the value only if it still equals ARGV[1].
// Returns 1 on swap, 0 when the value changed or vanished.
var casScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// CreateRecord atomically creates the record if absent. SET NX makes
// concurrent first deliveries race safely: exactly one wins.
func (s *Store) CreateRecord(ctx context.Context, rec *idem.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("durable/redis: encode record: %w", err)
	}

	key := recordKey(rec.Scope, rec.Key.Source, rec.Key.ExternalID)
	ok, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("durable/redis: create record: %w", err)
	}
	if !ok {
		return durable.ErrRecordAlreadyExists
	}
	return nil
}

// GetRecord retrieves the record for (key, scope).
func (s *Store) GetRecord(ctx context.Context, key idem.Key, scope string) (*idem.Record, error) {
	rec, _, err := s.getRecord(ctx, key, scope)
	return rec, err
}

// CompleteRecord caches the result and marks the record completed, only
// while ownerID still owns it.
func (s *Store) CompleteRecord(ctx context.Context, key idem.Key, scope string, ownerID id.WorkerID, result json.RawMessage) error {
	rec, raw, err := s.getRecord(ctx, key, scope)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return durable.ErrNotRecordOwner
	}

	now := time.Now().UTC()
	rec.Status = idem.StatusCompleted
	rec.Result = result
	rec.CompletedAt = &now
	rec.Touch()

	swapped, err := s.swapRecord(ctx, key, scope, raw, rec)
	if err != nil {
		return fmt.Errorf("durable/redis: complete record: %w", err)
	}
	if !swapped {
		// Lost the record between read and swap: takeover or delete won.
		return durable.ErrNotRecordOwner
	}

	if s.recordTTL > 0 {
		rk := recordKey(scope, key.Source, key.ExternalID)
		if err := s.client.PExpire(ctx, rk, s.recordTTL).Err(); err != nil {
			return fmt.Errorf("durable/redis: expire record: %w", err)
		}
	}
	return nil
}

// DeleteRecord removes the record. Deleting a missing record is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, key idem.Key, scope string) error {
	if err := s.client.Del(ctx, recordKey(scope, key.Source, key.ExternalID)).Err(); err != nil {
		return fmt.Errorf("durable/redis: delete record: %w", err)
	}
	return nil
}

// TakeOverRecord replaces a stale processing record with rec.
func (s *Store) TakeOverRecord(ctx context.Context, rec *idem.Record, staleBefore time.Time) error {
	existing, raw, err := s.getRecord(ctx, rec.Key, rec.Scope)
	if err != nil {
		if errors.Is(err, durable.ErrRecordNotFound) {
			// Vanished between the caller's read and ours.
			return s.CreateRecord(ctx, rec)
		}
		return err
	}

	if existing.Status != idem.StatusProcessing || existing.UpdatedAt.After(staleBefore) {
		return durable.ErrRecordAlreadyExists
	}

	swapped, err := s.swapRecord(ctx, rec.Key, rec.Scope, raw, rec)
	if err != nil {
		return fmt.Errorf("durable/redis: take over record: %w", err)
	}
	if !swapped {
		// Another worker took over (or completed) first.
		return durable.ErrRecordAlreadyExists
	}
	return nil
}

// getRecord fetches and decodes a record, returning the raw document for
// later compare-and-swap.
func (s *Store) getRecord(ctx context.Context, key idem.Key, scope string) (*idem.Record, string, error) {
	raw, err := s.client.Get(ctx, recordKey(scope, key.Source, key.ExternalID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, "", durable.ErrRecordNotFound
		}
		return nil, "", fmt.Errorf("durable/redis: get record: %w", err)
	}

	var rec idem.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, "", fmt.Errorf("durable/redis: decode record: %w", err)
	}
	return &rec, raw, nil
}

// swapRecord writes rec over the old raw document if it is unchanged.
func (s *Store) swapRecord(ctx context.Context, key idem.Key, scope string, oldRaw string, rec *idem.Record) (bool, error) {
	newRaw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	rk := recordKey(scope, key.Source, key.ExternalID)
	res, err := casScript.Run(ctx, s.client, []string{rk}, oldRaw, string(newRaw)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
