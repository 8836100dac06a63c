package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
)

// CreateJob persists a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO durable_jobs (
			id, type, tenant_id, run_id, payload, status, claimed_by,
			attempts, max_retries, priority,
			claimed_at, started_at, completed_at, last_heartbeat,
			error, result, message_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.Type, j.TenantID, nullableID(j.RunID), []byte(j.Payload),
		string(j.Status), nullableID(j.ClaimedBy),
		j.Attempts, j.MaxRetries, j.Priority,
		j.ClaimedAt, j.StartedAt, j.CompletedAt, j.LastHeartbeat,
		j.Error, []byte(j.Result), nullableID(j.MessageID),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return durable.ErrJobAlreadyExists
		}
		return fmt.Errorf("durable/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM durable_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrJobNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically claims the job with a single guarded UPDATE: pending
// jobs match unconditionally, claimed/running jobs match only when the
// lease heartbeat is older than the cutoff. Exactly one concurrent caller
// gets the row.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, staleThreshold time.Duration) (*job.Job, error) {
	cutoff := time.Now().UTC().Add(-staleThreshold)

	row := s.pool.QueryRow(ctx, `
		UPDATE durable_jobs SET
			status = 'claimed',
			claimed_by = $2,
			claimed_at = NOW(),
			last_heartbeat = NOW(),
			started_at = NULL,
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE id = $1
		  AND (
			status = 'pending'
			OR (status IN ('claimed', 'running')
				AND COALESCE(last_heartbeat, claimed_at) < $3)
		  )
		RETURNING `+jobColumns,
		jobID.String(), workerID.String(), cutoff,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("durable/postgres: claim job: %w", err)
	}

	// The claim lost. Classify why.
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status.Terminal() {
		return nil, durable.ErrJobTerminal
	}
	// Another worker holds a live lease. Not an error.
	return nil, nil
}

// StartJob transitions claimed→running for the claim owner.
func (s *Store) StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			status = 'running',
			started_at = NOW(),
			last_heartbeat = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: start job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status != job.StatusClaimed {
		return durable.ErrInvalidState
	}
	return durable.ErrNotClaimOwner
}

// Heartbeat refreshes the lease for the claim owner.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			last_heartbeat = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('claimed', 'running') AND claimed_by = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: heartbeat: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// CompleteJob transitions the job to completed for the claim owner.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			status = 'completed',
			result = $3,
			completed_at = NOW(),
			error = '',
			updated_at = NOW()
		WHERE id = $1 AND status IN ('claimed', 'running') AND claimed_by = $2`,
		jobID.String(), workerID.String(), []byte(result),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// FailJob records a failed attempt. The retry-budget branch is a CASE in
// the same guarded UPDATE, so the pending-vs-failed decision is taken
// against current row state, never a stale read.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			status         = CASE WHEN attempts < max_retries THEN 'pending' ELSE 'failed' END,
			error          = $3,
			claimed_by     = CASE WHEN attempts < max_retries THEN NULL ELSE claimed_by END,
			claimed_at     = CASE WHEN attempts < max_retries THEN NULL ELSE claimed_at END,
			started_at     = CASE WHEN attempts < max_retries THEN NULL ELSE started_at END,
			last_heartbeat = CASE WHEN attempts < max_retries THEN NULL ELSE last_heartbeat END,
			completed_at   = CASE WHEN attempts < max_retries THEN completed_at ELSE NOW() END,
			updated_at     = NOW()
		WHERE id = $1 AND status IN ('claimed', 'running') AND claimed_by = $2`,
		jobID.String(), workerID.String(), errMsg,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: fail job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	return durable.ErrNotClaimOwner
}

// DeadLetterJob quarantines a poison message, bypassing retry accounting.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			status = 'dead_letter',
			error = $2,
			completed_at = NOW(),
			claimed_by = NULL,
			claimed_at = NULL,
			started_at = NULL,
			last_heartbeat = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'claimed', 'running')`,
		jobID.String(), reason,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: dead-letter job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return getErr
	}
	return durable.ErrJobTerminal
}

// ListStaleJobs returns claimed/running jobs with lapsed heartbeats,
// oldest heartbeat first.
func (s *Store) ListStaleJobs(ctx context.Context, threshold time.Duration, limit int) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	query := `
		SELECT ` + jobColumns + ` FROM durable_jobs
		WHERE status IN ('claimed', 'running')
		  AND COALESCE(last_heartbeat, claimed_at) < $1
		ORDER BY COALESCE(last_heartbeat, claimed_at) ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListPendingJobs returns a tenant's pending jobs, highest priority first,
// then FIFO within a priority.
func (s *Store) ListPendingJobs(ctx context.Context, tenantID string, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM durable_jobs
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY priority DESC, created_at ASC`
	args := []any{tenantID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: list pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListJobsByRun returns all jobs belonging to a run, oldest first.
func (s *Store) ListJobsByRun(ctx context.Context, runID id.RunID) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM durable_jobs
		WHERE run_id = $1
		ORDER BY created_at ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: list jobs by run: %w", err)
	}
	return collectJobs(rows)
}

// GetJobByMessageID correlates a queue delivery to its durable record.
func (s *Store) GetJobByMessageID(ctx context.Context, messageID id.MessageID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM durable_jobs WHERE message_id = $1`,
		messageID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durable.ErrJobNotFound
		}
		return nil, fmt.Errorf("durable/postgres: get job by message id: %w", err)
	}
	return j, nil
}

// ListDeadLetterJobs returns a tenant's quarantined jobs, newest first.
func (s *Store) ListDeadLetterJobs(ctx context.Context, tenantID string, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM durable_jobs
		WHERE tenant_id = $1 AND status = 'dead_letter'
		ORDER BY updated_at DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: list dead letter jobs: %w", err)
	}
	return collectJobs(rows)
}

// ReplayDeadLetterJob returns a quarantined job to pending with a fresh
// attempt budget.
func (s *Store) ReplayDeadLetterJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE durable_jobs SET
			status = 'pending',
			attempts = 0,
			error = '',
			result = NULL,
			completed_at = NULL,
			claimed_by = NULL,
			claimed_at = NULL,
			started_at = NULL,
			last_heartbeat = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'dead_letter'`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: replay dead letter job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return getErr
	}
	return durable.ErrInvalidState
}

// CleanupOldJobs purges terminal jobs older than the retention window,
// bounded by limit per sweep.
func (s *Store) CleanupOldJobs(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	query := `
		DELETE FROM durable_jobs
		WHERE id IN (
			SELECT id FROM durable_jobs
			WHERE status IN ('completed', 'failed', 'dead_letter')
			  AND updated_at < $1`
	args := []any{cutoff}
	if limit > 0 {
		query += `
			LIMIT $2`
		args = append(args, limit)
	}
	query += `
		)`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("durable/postgres: cleanup old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
