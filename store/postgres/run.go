package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("durable/postgres: encode run steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO durable_runs (
			id, tenant_id, status, steps, current_step_index, error,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID.String(), r.TenantID, string(r.Status), steps, r.CurrentStepIndex, r.Error,
		r.StartedAt, r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrRunAlreadyExists
		}
		return fmt.Errorf("durable/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM durable_runs WHERE id = $1`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrRunNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("durable/postgres: encode run steps: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_runs SET
			tenant_id = $2, status = $3, steps = $4,
			current_step_index = $5, error = $6,
			started_at = $7, completed_at = $8, updated_at = NOW()
		WHERE id = $1`,
		r.ID.String(), r.TenantID, string(r.Status), steps,
		r.CurrentStepIndex, r.Error, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrRunNotFound
	}
	return nil
}

// CancelRun transitions a running run to cancelled. The status guard lives
// in the WHERE clause so a concurrent completion wins cleanly.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_runs SET
			status = 'cancelled',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: cancel run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, getErr := s.GetRun(ctx, runID); getErr != nil {
		return getErr
	}
	return durable.ErrInvalidState
}

// SaveCheckpoint overwrites the run's single checkpoint row. The version
// increment happens inside the upsert itself, so versions are strictly
// increasing under concurrent writers.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *run.Checkpoint) error {
	completed, err := json.Marshal(cp.CompletedSteps)
	if err != nil {
		return fmt.Errorf("durable/postgres: encode completed steps: %w", err)
	}
	artifacts, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("durable/postgres: encode artifacts: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO durable_checkpoints (
			run_id, tenant_id, current_step_index, current_step_name,
			status, completed_steps, failed_step_id, artifacts, reason,
			checkpointed_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (run_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			current_step_index = EXCLUDED.current_step_index,
			current_step_name = EXCLUDED.current_step_name,
			status = EXCLUDED.status,
			completed_steps = EXCLUDED.completed_steps,
			failed_step_id = EXCLUDED.failed_step_id,
			artifacts = EXCLUDED.artifacts,
			reason = EXCLUDED.reason,
			checkpointed_at = EXCLUDED.checkpointed_at,
			version = durable_checkpoints.version + 1
		RETURNING version`,
		cp.RunID.String(), cp.TenantID, cp.CurrentStepIndex, cp.CurrentStepName,
		string(cp.Status), completed, cp.FailedStepID, artifacts, string(cp.Reason),
		cp.CheckpointedAt,
	)

	if err := row.Scan(&cp.Version); err != nil {
		return fmt.Errorf("durable/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns the latest checkpoint for a run.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID) (*run.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM durable_checkpoints WHERE run_id = $1`,
		runID.String(),
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get checkpoint: %w", err)
	}
	return cp, nil
}
