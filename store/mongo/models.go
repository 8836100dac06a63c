package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/run"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID            string     `bson:"_id"`
	Type          string     `bson:"type"`
	TenantID      string     `bson:"tenant_id"`
	RunID         string     `bson:"run_id,omitempty"`
	Payload       []byte     `bson:"payload,omitempty"`
	Status        string     `bson:"status"`
	ClaimedBy     string     `bson:"claimed_by,omitempty"`
	Attempts      int        `bson:"attempts"`
	MaxRetries    int        `bson:"max_retries"`
	Priority      int        `bson:"priority"`
	ClaimedAt     *time.Time `bson:"claimed_at,omitempty"`
	StartedAt     *time.Time `bson:"started_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty"`
	LastHeartbeat *time.Time `bson:"last_heartbeat,omitempty"`
	Error         string     `bson:"error,omitempty"`
	Result        []byte     `bson:"result,omitempty"`
	MessageID     string     `bson:"message_id,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:            j.ID.String(),
		Type:          j.Type,
		TenantID:      j.TenantID,
		Payload:       j.Payload,
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		MaxRetries:    j.MaxRetries,
		Priority:      j.Priority,
		ClaimedAt:     j.ClaimedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		LastHeartbeat: j.LastHeartbeat,
		Error:         j.Error,
		Result:        j.Result,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if !j.RunID.IsNil() {
		m.RunID = j.RunID.String()
	}
	if !j.ClaimedBy.IsNil() {
		m.ClaimedBy = j.ClaimedBy.String()
	}
	if !j.MessageID.IsNil() {
		m.MessageID = j.MessageID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: durable.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		Type:          m.Type,
		TenantID:      m.TenantID,
		Payload:       m.Payload,
		Status:        job.Status(m.Status),
		Attempts:      m.Attempts,
		MaxRetries:    m.MaxRetries,
		Priority:      m.Priority,
		ClaimedAt:     m.ClaimedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		LastHeartbeat: m.LastHeartbeat,
		Error:         m.Error,
		Result:        m.Result,
	}

	if m.RunID != "" {
		if parsed, rErr := id.ParseRunID(m.RunID); rErr == nil {
			j.RunID = parsed
		}
	}
	if m.ClaimedBy != "" {
		if parsed, wErr := id.ParseWorkerID(m.ClaimedBy); wErr == nil {
			j.ClaimedBy = parsed
		}
	}
	if m.MessageID != "" {
		if parsed, mErr := id.ParseMessageID(m.MessageID); mErr == nil {
			j.MessageID = parsed
		}
	}

	return j, nil
}

// ── Run model ─────────────────────────────────────────────────────

type stepModel struct {
	ID     string `bson:"id"`
	Name   string `bson:"name"`
	Status string `bson:"status"`
}

type runModel struct {
	ID               string      `bson:"_id"`
	TenantID         string      `bson:"tenant_id"`
	Status           string      `bson:"status"`
	Steps            []stepModel `bson:"steps,omitempty"`
	CurrentStepIndex int         `bson:"current_step_index"`
	Error            string      `bson:"error,omitempty"`
	StartedAt        time.Time   `bson:"started_at"`
	CompletedAt      *time.Time  `bson:"completed_at,omitempty"`
	CreatedAt        time.Time   `bson:"created_at"`
	UpdatedAt        time.Time   `bson:"updated_at"`
}

func toRunModel(r *run.Run) *runModel {
	m := &runModel{
		ID:               r.ID.String(),
		TenantID:         r.TenantID,
		Status:           string(r.Status),
		CurrentStepIndex: r.CurrentStepIndex,
		Error:            r.Error,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	for _, st := range r.Steps {
		m.Steps = append(m.Steps, stepModel{ID: st.ID, Name: st.Name, Status: string(st.Status)})
	}
	return m
}

func fromRunModel(m *runModel) (*run.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse run id %q: %w", m.ID, err)
	}

	r := &run.Run{
		Entity: durable.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               parsedID,
		TenantID:         m.TenantID,
		Status:           run.Status(m.Status),
		CurrentStepIndex: m.CurrentStepIndex,
		Error:            m.Error,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}
	for _, st := range m.Steps {
		r.Steps = append(r.Steps, run.Step{ID: st.ID, Name: st.Name, Status: run.StepStatus(st.Status)})
	}
	return r, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	RunID            string            `bson:"_id"`
	TenantID         string            `bson:"tenant_id"`
	CurrentStepIndex int               `bson:"current_step_index"`
	CurrentStepName  string            `bson:"current_step_name,omitempty"`
	Status           string            `bson:"status"`
	CompletedSteps   []string          `bson:"completed_steps,omitempty"`
	FailedStepID     string            `bson:"failed_step_id,omitempty"`
	Artifacts        map[string][]byte `bson:"artifacts,omitempty"`
	Reason           string            `bson:"reason"`
	CheckpointedAt   time.Time         `bson:"checkpointed_at"`
	Version          int64             `bson:"version"`
}

func fromCheckpointModel(m *checkpointModel) (*run.Checkpoint, error) {
	parsedID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse checkpoint run id %q: %w", m.RunID, err)
	}

	cp := &run.Checkpoint{
		RunID:            parsedID,
		TenantID:         m.TenantID,
		CurrentStepIndex: m.CurrentStepIndex,
		CurrentStepName:  m.CurrentStepName,
		Status:           run.Status(m.Status),
		CompletedSteps:   m.CompletedSteps,
		FailedStepID:     m.FailedStepID,
		Reason:           run.Reason(m.Reason),
		CheckpointedAt:   m.CheckpointedAt,
		Version:          m.Version,
	}
	if m.Artifacts != nil {
		cp.Artifacts = make(map[string]json.RawMessage, len(m.Artifacts))
		for k, v := range m.Artifacts {
			cp.Artifacts[k] = v
		}
	}
	return cp, nil
}

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	RunID      string    `bson:"_id"`
	HolderID   string    `bson:"holder_id"`
	AcquiredAt time.Time `bson:"acquired_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

func fromLockModel(m *lockModel) (*lock.Lock, error) {
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse lock run id %q: %w", m.RunID, err)
	}
	holderID, err := id.ParseWorkerID(m.HolderID)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse lock holder id %q: %w", m.HolderID, err)
	}
	return &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: m.AcquiredAt,
		ExpiresAt:  m.ExpiresAt,
	}, nil
}

// ── Idempotency record model ──────────────────────────────────────

type recordModel struct {
	ID          string     `bson:"_id"`
	Source      string     `bson:"source"`
	ExternalID  string     `bson:"external_id"`
	Scope       string     `bson:"scope"`
	InputHash   string     `bson:"input_hash,omitempty"`
	Status      string     `bson:"status"`
	Result      []byte     `bson:"result,omitempty"`
	OwnerID     string     `bson:"owner_id,omitempty"`
	RunID       string     `bson:"run_id,omitempty"`
	StartedAt   time.Time  `bson:"started_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toRecordModel(rec *idem.Record) *recordModel {
	m := &recordModel{
		ID:          rec.ID.String(),
		Source:      rec.Key.Source,
		ExternalID:  rec.Key.ExternalID,
		Scope:       rec.Scope,
		InputHash:   rec.InputHash,
		Status:      string(rec.Status),
		Result:      rec.Result,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if !rec.OwnerID.IsNil() {
		m.OwnerID = rec.OwnerID.String()
	}
	if !rec.RunID.IsNil() {
		m.RunID = rec.RunID.String()
	}
	return m
}

func fromRecordModel(m *recordModel) (*idem.Record, error) {
	parsedID, err := id.ParseWithPrefix(m.ID, id.PrefixRecord)
	if err != nil {
		return nil, fmt.Errorf("durable/mongo: parse record id %q: %w", m.ID, err)
	}

	rec := &idem.Record{
		Entity: durable.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Key:         idem.Key{Source: m.Source, ExternalID: m.ExternalID},
		Scope:       m.Scope,
		InputHash:   m.InputHash,
		Status:      idem.Status(m.Status),
		Result:      m.Result,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if m.OwnerID != "" {
		if parsed, oErr := id.ParseWorkerID(m.OwnerID); oErr == nil {
			rec.OwnerID = parsed
		}
	}
	if m.RunID != "" {
		if parsed, rErr := id.ParseRunID(m.RunID); rErr == nil {
			rec.RunID = parsed
		}
	}
	return rec, nil
}
