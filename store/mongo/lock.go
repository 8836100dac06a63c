package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/lock"
)

// AcquireLock grants a lease when no live lock exists. The check is always
// "is there a live, unexpired lock", so expired leases are reclaimed
// implicitly. Conflicts surface as duplicate-key errors on the upsert,
// which makes the race a server-side decision.
func (s *Store) AcquireLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	t := now()
	key := runID.String()
	col := s.db.Collection(colLocks)

	// Fast path: the holder already has a live lease; extend it.
	res, err := col.UpdateOne(ctx,
		bson.M{
			"_id":        key,
			"holder_id":  holderID.String(),
			"expires_at": bson.M{"$gt": t},
		},
		bson.M{"$set": bson.M{"expires_at": t.Add(ttl)}},
	)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: extend lock: %w", err)
	}
	if res.MatchedCount > 0 {
		return s.GetLock(ctx, runID)
	}

	// Acquire: matches only a missing or expired record. If a live lease
	// exists the upsert degenerates into an insert on a taken _id and the
	// duplicate-key error is the conflict signal.
	_, err = col.UpdateOne(ctx,
		bson.M{
			"_id":        key,
			"expires_at": bson.M{"$lte": t},
		},
		bson.M{"$set": bson.M{
			"holder_id":   holderID.String(),
			"acquired_at": t,
			"expires_at":  t.Add(ttl),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, durable.ErrLockHeld
		}
		return nil, fmt.Errorf("durable/mongo: acquire lock: %w", err)
	}

	return &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: t,
		ExpiresAt:  t.Add(ttl),
	}, nil
}

// ReleaseLock drops the holder's lease. Missing or expired locks release
// as no-ops.
func (s *Store) ReleaseLock(ctx context.Context, runID id.RunID, holderID id.WorkerID) error {
	res, err := s.db.Collection(colLocks).DeleteOne(ctx, bson.M{
		"_id":       runID.String(),
		"holder_id": holderID.String(),
	})
	if err != nil {
		return fmt.Errorf("durable/mongo: release lock: %w", err)
	}
	if res.DeletedCount > 0 {
		return nil
	}

	existing, getErr := s.GetLock(ctx, runID)
	if getErr != nil {
		// Already gone.
		return nil
	}
	if existing.Live(now()) {
		return durable.ErrNotLockHolder
	}
	return nil
}

// RenewLock extends the holder's live lease by ttl from now.
func (s *Store) RenewLock(ctx context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	t := now()
	res, err := s.db.Collection(colLocks).UpdateOne(ctx,
		bson.M{
			"_id":        runID.String(),
			"holder_id":  holderID.String(),
			"expires_at": bson.M{"$gt": t},
		},
		bson.M{"$set": bson.M{"expires_at": t.Add(ttl)}},
	)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: renew lock: %w", err)
	}
	if res.MatchedCount > 0 {
		return s.GetLock(ctx, runID)
	}

	if _, getErr := s.GetLock(ctx, runID); getErr != nil {
		return nil, getErr
	}
	return nil, durable.ErrNotLockHolder
}

// GetLock returns the current lock record, expired or not.
func (s *Store) GetLock(ctx context.Context, runID id.RunID) (*lock.Lock, error) {
	var m lockModel
	err := s.db.Collection(colLocks).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrLockNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get lock: %w", err)
	}
	return fromLockModel(&m)
}
