package run

import (
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	// StatusRunning means the run is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was explicitly cancelled. Workers poll
	// for this transition between steps and stop without completing.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the state of a single step within a run.
type StepStatus string

const (
	// StepPending means the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning means the step is executing.
	StepRunning StepStatus = "running"
	// StepCompleted means the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed means the step failed.
	StepFailed StepStatus = "failed"
)

// Step is one unit of a multi-step run.
type Step struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// Run represents a multi-step execution owned by a tenant.
type Run struct {
	durable.Entity

	ID       id.RunID `json:"id"`
	TenantID string   `json:"tenant_id"`
	Status   Status   `json:"status"`
	Steps    []Step   `json:"steps,omitempty"`

	CurrentStepIndex int    `json:"current_step_index"`
	Error            string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a running run for the given tenant and step list.
func New(tenantID string, steps []Step) *Run {
	return &Run{
		Entity:    durable.NewEntity(),
		ID:        id.NewRunID(),
		TenantID:  tenantID,
		Status:    StatusRunning,
		Steps:     steps,
		StartedAt: time.Now().UTC(),
	}
}

// CurrentStep returns the step at CurrentStepIndex, or nil when the index
// is out of range.
func (r *Run) CurrentStep() *Step {
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.Steps) {
		return nil
	}
	return &r.Steps[r.CurrentStepIndex]
}

// CompletedStepIDs returns the IDs of completed steps in step order.
// Resume logic uses this list to decide which steps to skip.
func (r *Run) CompletedStepIDs() []string {
	var ids []string
	for _, s := range r.Steps {
		if s.Status == StepCompleted {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	if r.Steps != nil {
		cp.Steps = make([]Step, len(r.Steps))
		copy(cp.Steps, r.Steps)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// FailedStepID returns the ID of the first failed step, or empty.
func (r *Run) FailedStepID() string {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return s.ID
		}
	}
	return ""
}
