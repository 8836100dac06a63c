package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/run"
)

// jobColumns is the canonical column list for durable_jobs scans.
const jobColumns = `id, type, tenant_id, run_id, payload, status, claimed_by,
	attempts, max_retries, priority,
	claimed_at, started_at, completed_at, last_heartbeat,
	error, result, message_id, created_at, updated_at`

// scanJob reads one durable_jobs row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		jobID     string
		runID     *string
		claimedBy *string
		status    string
		messageID *string
	)

	err := row.Scan(
		&jobID, &j.Type, &j.TenantID, &runID, &j.Payload, &status, &claimedBy,
		&j.Attempts, &j.MaxRetries, &j.Priority,
		&j.ClaimedAt, &j.StartedAt, &j.CompletedAt, &j.LastHeartbeat,
		&j.Error, &j.Result, &messageID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse job id %q: %w", jobID, err)
	}
	j.ID = parsedID
	j.Status = job.Status(status)

	if runID != nil && *runID != "" {
		if parsed, rErr := id.ParseRunID(*runID); rErr == nil {
			j.RunID = parsed
		}
	}
	if claimedBy != nil && *claimedBy != "" {
		if parsed, wErr := id.ParseWorkerID(*claimedBy); wErr == nil {
			j.ClaimedBy = parsed
		}
	}
	if messageID != nil && *messageID != "" {
		if parsed, mErr := id.ParseMessageID(*messageID); mErr == nil {
			j.MessageID = parsed
		}
	}

	return &j, nil
}

// collectJobs drains rows into a job slice.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// nullableID renders an ID as a nullable text column value.
func nullableID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

// runColumns is the canonical column list for durable_runs scans.
const runColumns = `id, tenant_id, status, steps, current_step_index, error,
	started_at, completed_at, created_at, updated_at`

// scanRun reads one durable_runs row. Steps travel as a JSONB document.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r      run.Run
		runID  string
		status string
		steps  []byte
	)

	err := row.Scan(
		&runID, &r.TenantID, &status, &steps, &r.CurrentStepIndex, &r.Error,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseRunID(runID)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse run id %q: %w", runID, err)
	}
	r.ID = parsedID
	r.Status = run.Status(status)

	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &r.Steps); err != nil {
			return nil, fmt.Errorf("durable/postgres: decode run steps: %w", err)
		}
	}
	return &r, nil
}

// checkpointColumns is the canonical column list for durable_checkpoints scans.
const checkpointColumns = `run_id, tenant_id, current_step_index, current_step_name,
	status, completed_steps, failed_step_id, artifacts, reason, checkpointed_at, version`

// scanCheckpoint reads one durable_checkpoints row.
func scanCheckpoint(row pgx.Row) (*run.Checkpoint, error) {
	var (
		cp        run.Checkpoint
		runID     string
		status    string
		reason    string
		completed []byte
		artifacts []byte
	)

	err := row.Scan(
		&runID, &cp.TenantID, &cp.CurrentStepIndex, &cp.CurrentStepName,
		&status, &completed, &cp.FailedStepID, &artifacts, &reason,
		&cp.CheckpointedAt, &cp.Version,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseRunID(runID)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse checkpoint run id %q: %w", runID, err)
	}
	cp.RunID = parsedID
	cp.Status = run.Status(status)
	cp.Reason = run.Reason(reason)

	if len(completed) > 0 {
		if err := json.Unmarshal(completed, &cp.CompletedSteps); err != nil {
			return nil, fmt.Errorf("durable/postgres: decode completed steps: %w", err)
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &cp.Artifacts); err != nil {
			return nil, fmt.Errorf("durable/postgres: decode artifacts: %w", err)
		}
	}
	return &cp, nil
}

// recordColumns is the canonical column list for durable_idempotency scans.
const recordColumns = `id, scope, source, external_id, input_hash, status, result,
	owner_id, run_id, started_at, completed_at, created_at, updated_at`

// scanRecord reads one durable_idempotency row.
func scanRecord(row pgx.Row) (*idem.Record, error) {
	var (
		rec      idem.Record
		recID    string
		status   string
		ownerID  *string
		runID    *string
		ent      durable.Entity
		started  time.Time
		finished *time.Time
	)

	err := row.Scan(
		&recID, &rec.Scope, &rec.Key.Source, &rec.Key.ExternalID,
		&rec.InputHash, &status, &rec.Result,
		&ownerID, &runID, &started, &finished, &ent.CreatedAt, &ent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseWithPrefix(recID, id.PrefixRecord)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: parse record id %q: %w", recID, err)
	}
	rec.ID = parsedID
	rec.Entity = ent
	rec.Status = idem.Status(status)
	rec.StartedAt = started
	rec.CompletedAt = finished

	if ownerID != nil && *ownerID != "" {
		if parsed, oErr := id.ParseWorkerID(*ownerID); oErr == nil {
			rec.OwnerID = parsed
		}
	}
	if runID != nil && *runID != "" {
		if parsed, rErr := id.ParseRunID(*runID); rErr == nil {
			rec.RunID = parsed
		}
	}
	return &rec, nil
}
