package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
)

// CreateRecord inserts a new idempotency record. The unique index on
// (scope, source, external_id) makes creation race-free.
func (s *Store) CreateRecord(ctx context.Context, rec *idem.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_idempotency (
			id, scope, source, external_id, input_hash, status, result,
			owner_id, run_id, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID.String(), rec.Scope, rec.Key.Source, rec.Key.ExternalID,
		rec.InputHash, string(rec.Status), []byte(rec.Result),
		nullableID(rec.OwnerID), nullableID(rec.RunID),
		rec.StartedAt, rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrRecordAlreadyExists
		}
		return fmt.Errorf("durable/postgres: create record: %w", err)
	}
	return nil
}

// GetRecord retrieves the record for (key, scope).
func (s *Store) GetRecord(ctx context.Context, key idem.Key, scope string) (*idem.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM durable_idempotency
		 WHERE scope = $1 AND source = $2 AND external_id = $3`,
		scope, key.Source, key.ExternalID,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrRecordNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get record: %w", err)
	}
	return rec, nil
}

// CompleteRecord caches the result and marks the record completed, only
// while ownerID still owns it.
func (s *Store) CompleteRecord(ctx context.Context, key idem.Key, scope string, ownerID id.WorkerID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_idempotency SET
			status = 'completed',
			result = $5,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE scope = $1 AND source = $2 AND external_id = $3 AND owner_id = $4`,
		scope, key.Source, key.ExternalID, ownerID.String(), []byte(result),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: complete record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, getErr := s.GetRecord(ctx, key, scope); getErr != nil {
		return getErr
	}
	return durable.ErrNotRecordOwner
}

// DeleteRecord removes the record. Deleting a missing record is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, key idem.Key, scope string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM durable_idempotency
		 WHERE scope = $1 AND source = $2 AND external_id = $3`,
		scope, key.Source, key.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: delete record: %w", err)
	}
	return nil
}

// TakeOverRecord replaces a stale processing record with rec. The
// staleness check rides in the WHERE clause; a fresh or completed record
// survives untouched and the caller gets ErrRecordAlreadyExists.
func (s *Store) TakeOverRecord(ctx context.Context, rec *idem.Record, staleBefore time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_idempotency SET
			id = $4, input_hash = $5, status = $6, result = $7,
			owner_id = $8, run_id = $9,
			started_at = $10, completed_at = $11, updated_at = NOW()
		WHERE scope = $1 AND source = $2 AND external_id = $3
			AND status = 'processing' AND updated_at < $12`,
		rec.Scope, rec.Key.Source, rec.Key.ExternalID,
		rec.ID.String(), rec.InputHash, string(rec.Status), []byte(rec.Result),
		nullableID(rec.OwnerID), nullableID(rec.RunID),
		rec.StartedAt, rec.CompletedAt, staleBefore,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: take over record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, getErr := s.GetRecord(ctx, rec.Key, rec.Scope)
	if getErr == nil {
		return durable.ErrRecordAlreadyExists
	}
	// Record vanished between the caller's read and our write.
	return s.CreateRecord(ctx, rec)
}
