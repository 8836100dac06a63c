package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Manager creates and retrieves checkpoints, applying the artifact size
// caps before anything reaches the store.
type Manager struct {
	store  Store
	caps   ArtifactCaps
	logger *slog.Logger
}

// NewManager creates a checkpoint manager. A nil logger discards output.
func NewManager(store Store, caps ArtifactCaps, logger *slog.Logger) *Manager {
	if caps.MaxItemBytes <= 0 || caps.MaxDocBytes <= 0 {
		caps = DefaultArtifactCaps()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, caps: caps, logger: logger}
}

// CreateCheckpoint snapshots the run's progress. Completed steps and the
// failed step are derived from the run's step list; artifacts are
// serialized under the configured caps, degrading oversized entries to
// truncation markers rather than failing the write.
func (m *Manager) CreateCheckpoint(ctx context.Context, r *Run, artifacts map[string]any, reason Reason) (*Checkpoint, error) {
	doc, err := serializeArtifacts(artifacts, m.caps)
	if err != nil {
		return nil, fmt.Errorf("run: checkpoint %s: %w", r.ID, err)
	}

	cp := &Checkpoint{
		RunID:            r.ID,
		TenantID:         r.TenantID,
		CurrentStepIndex: r.CurrentStepIndex,
		Status:           r.Status,
		CompletedSteps:   r.CompletedStepIDs(),
		FailedStepID:     r.FailedStepID(),
		Artifacts:        doc,
		Reason:           reason,
		CheckpointedAt:   time.Now().UTC(),
	}
	if step := r.CurrentStep(); step != nil {
		cp.CurrentStepName = step.Name
	}

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("run: checkpoint %s: %w", r.ID, err)
	}

	m.logger.Debug("checkpoint saved",
		slog.String("run_id", r.ID.String()),
		slog.Int64("version", cp.Version),
		slog.String("reason", string(reason)),
		slog.Int("completed_steps", len(cp.CompletedSteps)),
	)
	return cp, nil
}

// GetCheckpoint returns the run's latest checkpoint, or
// durable.ErrCheckpointNotFound if the run has never checkpointed.
func (m *Manager) GetCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run: get checkpoint %s: %w", runID, err)
	}
	return cp, nil
}
