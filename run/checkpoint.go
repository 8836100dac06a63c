package run

import (
	"encoding/json"
	"time"

	"github.com/intent-solutions-io/durable/id"
)

// Reason records why a checkpoint was taken.
type Reason string

const (
	// ReasonPeriodic marks a routine checkpoint between steps.
	ReasonPeriodic Reason = "periodic"
	// ReasonPreFailure marks a checkpoint taken just before surfacing a
	// failure, preserving state for post-mortem resume.
	ReasonPreFailure Reason = "pre_failure"
	// ReasonManual marks an operator-requested checkpoint.
	ReasonManual Reason = "manual"
)

// Checkpoint is the per-run progress snapshot. Exactly one checkpoint
// document exists per run; writes overwrite it, with the previous version
// read inside the same transaction so no write is based on stale state.
type Checkpoint struct {
	RunID    id.RunID `json:"run_id"`
	TenantID string   `json:"tenant_id"`

	CurrentStepIndex int    `json:"current_step_index"`
	CurrentStepName  string `json:"current_step_name,omitempty"`
	Status           Status `json:"status"`

	CompletedSteps []string `json:"completed_steps,omitempty"`
	FailedStepID   string   `json:"failed_step_id,omitempty"`

	// Artifacts is the size-capped opaque state document. Entries above
	// the per-item cap are truncation markers, not the original value.
	Artifacts map[string]json.RawMessage `json:"artifacts,omitempty"`

	Reason         Reason    `json:"reason"`
	CheckpointedAt time.Time `json:"checkpointed_at"`

	// Version is monotonic, incremented on every write by the store.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the checkpoint.
func (cp *Checkpoint) Clone() *Checkpoint {
	out := *cp
	if cp.CompletedSteps != nil {
		out.CompletedSteps = make([]string, len(cp.CompletedSteps))
		copy(out.CompletedSteps, cp.CompletedSteps)
	}
	if cp.Artifacts != nil {
		out.Artifacts = make(map[string]json.RawMessage, len(cp.Artifacts))
		for k, v := range cp.Artifacts {
			out.Artifacts[k] = v
		}
	}
	return &out
}
