package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Store defines the persistence contract for the durable job state machine.
//
// Every transition is a single-document read-modify-write transaction on
// the backing store; implementations must never perform a write based on
// state read outside the same transaction. Workers on different processes
// coordinate exclusively through these calls.
type Store interface {
	// CreateJob persists a new job in pending state with attempts=0.
	// Returns durable.ErrJobAlreadyExists if the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	// Returns durable.ErrJobNotFound if no such job exists.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimJob atomically claims a job for workerID. It succeeds from
	// pending unconditionally, and from claimed/running only when the
	// current lease is stale (last heartbeat older than staleThreshold).
	// On success the job moves to claimed, attempts is incremented, and
	// the heartbeat is refreshed.
	//
	// A live lease held by another worker is not an error: ClaimJob
	// returns (nil, nil) so callers can move on to other work. Claiming a
	// terminal job returns durable.ErrJobTerminal.
	ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, staleThreshold time.Duration) (*Job, error)

	// StartJob transitions claimed→running. Fails with
	// durable.ErrNotClaimOwner unless workerID holds the claim, and with
	// durable.ErrInvalidState unless the job is claimed.
	StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Heartbeat refreshes the lease on a claimed or running job. Returns
	// durable.ErrNotClaimOwner if workerID no longer holds the claim —
	// the worker must treat that as a hard cancellation of this attempt —
	// and durable.ErrJobTerminal if the job already reached a terminal
	// state.
	Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// CompleteJob transitions the job to completed with an optional
	// result document. Only the current claimant may complete.
	CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, result json.RawMessage) error

	// FailJob records a failed attempt. If attempts < maxRetries the job
	// returns to pending with its claim fields cleared, eligible for
	// another claim cycle; otherwise it transitions to failed (terminal).
	// Only the current claimant may fail the job. The error message is
	// recorded on the job either way.
	FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string) error

	// DeadLetterJob quarantines a job identified as a poison message,
	// bypassing retry accounting. Any caller may dead-letter; the reason
	// is recorded on the job.
	DeadLetterJob(ctx context.Context, jobID id.JobID, reason string) error

	// ListStaleJobs returns claimed/running jobs whose last heartbeat is
	// older than threshold, oldest heartbeat first. Any worker may reclaim
	// them via ClaimJob. Limit of zero means no limit.
	ListStaleJobs(ctx context.Context, threshold time.Duration, limit int) ([]*Job, error)

	// ListPendingJobs returns a tenant's pending jobs ordered by priority
	// descending, then creation time ascending. Limit of zero means no
	// limit.
	ListPendingJobs(ctx context.Context, tenantID string, limit int) ([]*Job, error)

	// ListJobsByRun returns all jobs belonging to a run, oldest first.
	ListJobsByRun(ctx context.Context, runID id.RunID) ([]*Job, error)

	// GetJobByMessageID correlates a queue delivery to its durable record.
	// Returns durable.ErrJobNotFound if no job carries the message ID.
	GetJobByMessageID(ctx context.Context, messageID id.MessageID) (*Job, error)

	// ListDeadLetterJobs returns a tenant's quarantined jobs, newest
	// first, for operator inspection. Limit of zero means no limit.
	ListDeadLetterJobs(ctx context.Context, tenantID string, limit int) ([]*Job, error)

	// ReplayDeadLetterJob returns a quarantined job to pending with a
	// fresh attempt budget (attempts reset to 0). Returns
	// durable.ErrInvalidState unless the job is dead-lettered.
	ReplayDeadLetterJob(ctx context.Context, jobID id.JobID) error

	// CleanupOldJobs purges terminal jobs whose completion is older than
	// the retention window, at most limit per call so sweeps stay bounded.
	// Returns the number of jobs removed.
	CleanupOldJobs(ctx context.Context, retention time.Duration, limit int) (int64, error)
}
