// Package idem deduplicates externally-triggered executions. A duplicate
// webhook delivery is answered from the cached outcome (or told "in
// progress") instead of re-executing the work.
//
// [Service.Process] is the single entry point. It transactionally creates
// a processing record before invoking the work function; concurrent calls
// with the same key observe the record and back off.
package idem

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
)

// Status represents the state of an idempotency record.
type Status string

const (
	// StatusProcessing means the keyed work is currently executing.
	StatusProcessing Status = "processing"
	// StatusCompleted means the work finished and the result is cached.
	StatusCompleted Status = "completed"
)

// Key identifies an external trigger, e.g. a webhook delivery.
type Key struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
}

// String renders the key as "source:externalID".
func (k Key) String() string {
	return k.Source + ":" + k.ExternalID
}

// Validate checks that both key components are present.
func (k Key) Validate() error {
	if k.Source == "" || k.ExternalID == "" {
		return fmt.Errorf("idem: key requires source and external id, got %q", k.String())
	}
	return nil
}

// Record maps a trigger key (plus caller scope) to its execution outcome.
// At most one record exists per (key, scope).
type Record struct {
	durable.Entity

	ID        id.RecordID `json:"id"`
	Key       Key         `json:"key"`
	Scope     string      `json:"scope"`
	InputHash string      `json:"input_hash,omitempty"`
	Status    Status      `json:"status"`

	Result json.RawMessage `json:"result,omitempty"`

	// OwnerID and RunID identify who is (or was) processing the trigger,
	// surfaced to concurrent callers through InProgressError.
	OwnerID id.WorkerID `json:"owner_id,omitempty"`
	RunID   id.RunID    `json:"run_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRecord creates a processing record for the given trigger.
func NewRecord(key Key, scope string, input []byte, ownerID id.WorkerID, runID id.RunID) *Record {
	return &Record{
		Entity:    durable.NewEntity(),
		ID:        id.NewRecordID(),
		Key:       key,
		Scope:     scope,
		InputHash: HashInput(input),
		Status:    StatusProcessing,
		OwnerID:   ownerID,
		RunID:     runID,
		StartedAt: time.Now().UTC(),
	}
}

// HashInput returns the hex SHA-256 of the raw input snapshot, or empty
// for empty input.
func HashInput(input []byte) string {
	if len(input) == 0 {
		return ""
	}
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// InProgressError signals that the keyed work is already executing. It
// carries the current owner and run so the caller can respond (e.g. HTTP
// 202 referencing the same run) without duplicating effort.
type InProgressError struct {
	Key       Key
	Scope     string
	OwnerID   id.WorkerID
	RunID     id.RunID
	StartedAt time.Time
}

// Error implements the error interface.
func (e *InProgressError) Error() string {
	return fmt.Sprintf("idem: %s already processing, owned by %s", e.Key, e.OwnerID)
}

// InProgress extracts an *InProgressError from err's chain, or nil.
func InProgress(err error) *InProgressError {
	var ipe *InProgressError
	if errors.As(err, &ipe) {
		return ipe
	}
	return nil
}
