package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
)

// keyFilter selects the record for a (key, scope) pair.
func keyFilter(key idem.Key, scope string) bson.M {
	return bson.M{
		"scope":       scope,
		"source":      key.Source,
		"external_id": key.ExternalID,
	}
}

// CreateRecord atomically creates the record if none exists for its
// (key, scope). The unique index on (scope, source, external_id) turns
// concurrent creates into exactly one winner.
func (s *Store) CreateRecord(ctx context.Context, rec *idem.Record) error {
	_, err := s.db.Collection(colRecords).InsertOne(ctx, toRecordModel(rec))
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrRecordAlreadyExists
		}
		return fmt.Errorf("durable/mongo: create record: %w", err)
	}
	return nil
}

// GetRecord retrieves the record for (key, scope).
func (s *Store) GetRecord(ctx context.Context, key idem.Key, scope string) (*idem.Record, error) {
	var m recordModel
	err := s.db.Collection(colRecords).FindOne(ctx, keyFilter(key, scope)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, durable.ErrRecordNotFound
		}
		return nil, fmt.Errorf("durable/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

// CompleteRecord transitions the record to completed with the cached
// result. The ownership check rides in the update filter; a record taken
// over by another worker no longer matches.
func (s *Store) CompleteRecord(ctx context.Context, key idem.Key, scope string, ownerID id.WorkerID, result json.RawMessage) error {
	t := now()
	filter := keyFilter(key, scope)
	filter["owner_id"] = ownerID.String()

	res, err := s.db.Collection(colRecords).UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{
			"status":       string(idem.StatusCompleted),
			"result":       []byte(result),
			"completed_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("durable/mongo: complete record: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetRecord(ctx, key, scope); getErr != nil {
			return getErr
		}
		return durable.ErrNotRecordOwner
	}
	return nil
}

// DeleteRecord removes the record; missing records delete as a no-op.
func (s *Store) DeleteRecord(ctx context.Context, key idem.Key, scope string) error {
	_, err := s.db.Collection(colRecords).DeleteOne(ctx, keyFilter(key, scope))
	if err != nil {
		return fmt.Errorf("durable/mongo: delete record: %w", err)
	}
	return nil
}

// TakeOverRecord atomically replaces a stale processing record. The
// staleness check rides in the replace filter; if the original owner
// heartbeats in between, the filter no longer matches and the takeover
// loses.
func (s *Store) TakeOverRecord(ctx context.Context, rec *idem.Record, staleBefore time.Time) error {
	filter := keyFilter(rec.Key, rec.Scope)
	filter["status"] = string(idem.StatusProcessing)
	filter["updated_at"] = bson.M{"$lt": staleBefore}

	res, err := s.db.Collection(colRecords).ReplaceOne(ctx, filter, toRecordModel(rec))
	if err != nil {
		return fmt.Errorf("durable/mongo: take over record: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: either the record is fresh/completed, or it
	// vanished entirely. A vanished record is claimable by insert.
	if _, getErr := s.GetRecord(ctx, rec.Key, rec.Scope); getErr == nil {
		return durable.ErrRecordAlreadyExists
	}
	return s.CreateRecord(ctx, rec)
}
