package job

import (
	"encoding/json"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusClaimed means a worker holds a live lease but has not started work.
	StatusClaimed Status = "claimed"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job exhausted its retry budget.
	StatusFailed Status = "failed"
	// StatusDeadLetter means the job was explicitly quarantined as a poison
	// message, bypassing retry accounting.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether s is a terminal status. Terminal jobs accept no
// further transitions other than dead-letter replay.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeadLetter:
		return true
	}
	return false
}

// Job represents a unit of asynchronous work owned by a tenant.
type Job struct {
	durable.Entity

	ID       id.JobID `json:"id"`
	Type     string   `json:"type"`
	TenantID string   `json:"tenant_id"`
	RunID    id.RunID `json:"run_id,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
	Status  Status          `json:"status"`

	// ClaimedBy is set while Status is claimed or running; it is cleared
	// (zeroed, not deleted) when a failed attempt returns the job to pending.
	ClaimedBy id.WorkerID `json:"claimed_by,omitempty"`

	Attempts   int `json:"attempts"`
	MaxRetries int `json:"max_retries"`
	Priority   int `json:"priority"`

	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// MessageID correlates the durable record to the queue delivery that
	// carried it.
	MessageID id.MessageID `json:"message_id,omitempty"`
}

// New creates a pending job for the given type and tenant.
func New(jobType, tenantID string, payload json.RawMessage, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Job{
		Entity:     durable.NewEntity(),
		ID:         id.NewJobID(),
		Type:       jobType,
		TenantID:   tenantID,
		RunID:      o.RunID,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: o.MaxRetries,
		Priority:   o.Priority,
		MessageID:  o.MessageID,
	}
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool { return j.Status.Terminal() }

// Claimed reports whether the job currently carries a claim
// (claimed or running).
func (j *Job) Claimed() bool {
	return j.Status == StatusClaimed || j.Status == StatusRunning
}

// StaleAt returns the instant the job's lease expires: LastHeartbeat plus
// the threshold. Returns the zero time when the job carries no claim.
func (j *Job) StaleAt(threshold time.Duration) time.Time {
	if !j.Claimed() || j.LastHeartbeat == nil {
		return time.Time{}
	}
	return j.LastHeartbeat.Add(threshold)
}

// StaleAsOf reports whether the job's lease has lapsed as of now: the job
// carries a claim whose last heartbeat is older than threshold. Pending
// jobs are never stale; they have no lease to lapse.
func (j *Job) StaleAsOf(now time.Time, threshold time.Duration) bool {
	if !j.Claimed() {
		return false
	}
	if j.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*j.LastHeartbeat) > threshold
}

// ClearClaim zeroes the claim fields. Stale-sweep queries filter by status
// first, so zeroed heartbeats on pending jobs can never spuriously match.
func (j *Job) ClearClaim() {
	j.ClaimedBy = id.Nil
	j.ClaimedAt = nil
	j.StartedAt = nil
	j.LastHeartbeat = nil
}
