package run

import (
	"context"

	"github.com/intent-solutions-io/durable/id"
)

// Store defines the persistence contract for runs and their checkpoints.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID.
	// Returns durable.ErrRunNotFound if no such run exists.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, r *Run) error

	// CancelRun transitions a run to cancelled. Well-behaved workers poll
	// the run status between steps and stop when they observe it.
	// Returns durable.ErrInvalidState if the run is already terminal.
	CancelRun(ctx context.Context, runID id.RunID) error

	// SaveCheckpoint overwrites the run's single checkpoint document.
	// The write happens inside a transaction that reads the current
	// version and increments it, so versions are strictly increasing even
	// under concurrent writers; cp.Version is set to the stored value on
	// return. No write is ever based on state read outside the
	// transaction.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// GetCheckpoint returns the latest checkpoint for a run.
	// Returns durable.ErrCheckpointNotFound if the run has never
	// checkpointed.
	GetCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error)
}
