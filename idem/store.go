package idem

import (
	"context"
	"encoding/json"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Store defines the persistence contract for idempotency records.
type Store interface {
	// CreateRecord atomically creates the record if no record exists for
	// its (key, scope). Returns durable.ErrRecordAlreadyExists otherwise;
	// the existing record is never modified by a failed create.
	CreateRecord(ctx context.Context, rec *Record) error

	// GetRecord retrieves the record for (key, scope).
	// Returns durable.ErrRecordNotFound if none exists.
	GetRecord(ctx context.Context, key Key, scope string) (*Record, error)

	// CompleteRecord transitions the record to completed with the cached
	// result, only if ownerID still owns it. Returns
	// durable.ErrRecordNotFound if the record vanished and
	// durable.ErrNotRecordOwner if another worker took it over.
	CompleteRecord(ctx context.Context, key Key, scope string, ownerID id.WorkerID, result json.RawMessage) error

	// DeleteRecord removes the record so a later delivery can retry
	// cleanly. Deleting a missing record is a no-op.
	DeleteRecord(ctx context.Context, key Key, scope string) error

	// TakeOverRecord atomically replaces an existing record with rec,
	// only if the existing record is still processing and its last update
	// is older than staleBefore (the original owner is presumed crashed).
	// Returns durable.ErrRecordAlreadyExists when the existing record is
	// fresh or completed.
	TakeOverRecord(ctx context.Context, rec *Record, staleBefore time.Time) error
}
