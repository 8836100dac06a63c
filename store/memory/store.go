// Package memory provides a fully in-memory store backend for development
// and testing. Every transition holds a single mutex for its whole
// read-modify-write cycle, which gives the same atomicity the database
// backends get from conditional writes.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/run"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store  = (*Store)(nil)
	_ run.Store  = (*Store)(nil)
	_ lock.Store = (*Store)(nil)
	_ idem.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.Mutex

	jobs        map[string]*job.Job
	runs        map[string]*run.Run
	checkpoints map[string]*run.Checkpoint // key: run ID
	locks       map[string]*lock.Lock      // key: run ID
	records     map[string]*idem.Record    // key: scope + "/" + key
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		runs:        make(map[string]*run.Run),
		checkpoints: make(map[string]*run.Checkpoint),
		locks:       make(map[string]*lock.Lock),
		records:     make(map[string]*idem.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job in pending state.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return durable.ErrJobAlreadyExists
	}
	if !j.MessageID.IsNil() {
		// One job per queue message; concurrent first deliveries collapse
		// to a single record.
		for _, existing := range m.jobs {
			if existing.MessageID == j.MessageID {
				return durable.ErrJobAlreadyExists
			}
		}
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, durable.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ClaimJob atomically claims a job: from pending unconditionally, from
// claimed/running only when the current lease is stale.
func (m *Store) ClaimJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, staleThreshold time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, durable.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return nil, durable.ErrJobTerminal
	}

	now := time.Now().UTC()
	claimable := j.Status == job.StatusPending || j.StaleAsOf(now, staleThreshold)
	if !claimable {
		// Another worker holds a live lease. Not an error.
		return nil, nil
	}

	j.Status = job.StatusClaimed
	j.ClaimedBy = workerID
	j.ClaimedAt = &now
	j.LastHeartbeat = &now
	j.StartedAt = nil
	j.Attempts++
	j.Touch()

	cp := *j
	return &cp, nil
}

// StartJob transitions claimed→running for the claim owner.
func (m *Store) StartJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status != job.StatusClaimed {
		return durable.ErrInvalidState
	}
	if j.ClaimedBy != workerID {
		return durable.ErrNotClaimOwner
	}

	now := time.Now().UTC()
	j.Status = job.StatusRunning
	j.StartedAt = &now
	j.LastHeartbeat = &now
	j.Touch()
	return nil
}

// Heartbeat refreshes the lease for the claim owner.
func (m *Store) Heartbeat(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	if !j.Claimed() || j.ClaimedBy != workerID {
		return durable.ErrNotClaimOwner
	}

	now := time.Now().UTC()
	j.LastHeartbeat = &now
	j.Touch()
	return nil
}

// CompleteJob transitions the job to completed for the claim owner.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	if !j.Claimed() || j.ClaimedBy != workerID {
		return durable.ErrNotClaimOwner
	}

	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.Error = ""
	j.Touch()
	return nil
}

// FailJob records a failed attempt: back to pending while budget remains,
// terminal failed once it is exhausted.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return durable.ErrJobTerminal
	}
	if !j.Claimed() || j.ClaimedBy != workerID {
		return durable.ErrNotClaimOwner
	}

	j.Error = errMsg
	if j.Attempts < j.MaxRetries {
		j.Status = job.StatusPending
		j.ClearClaim()
	} else {
		now := time.Now().UTC()
		j.Status = job.StatusFailed
		j.CompletedAt = &now
	}
	j.Touch()
	return nil
}

// DeadLetterJob quarantines a poison message, bypassing retry accounting.
func (m *Store) DeadLetterJob(_ context.Context, jobID id.JobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return durable.ErrJobTerminal
	}

	now := time.Now().UTC()
	j.Status = job.StatusDeadLetter
	j.Error = reason
	j.CompletedAt = &now
	j.ClearClaim()
	j.Touch()
	return nil
}

// heartbeatTime orders stale jobs: claimed jobs that never heartbeated
// sort by claim time.
func heartbeatTime(j *job.Job) time.Time {
	if j.LastHeartbeat != nil {
		return *j.LastHeartbeat
	}
	if j.ClaimedAt != nil {
		return *j.ClaimedAt
	}
	return j.CreatedAt
}

// ListStaleJobs returns claimed/running jobs with lapsed heartbeats,
// oldest heartbeat first.
func (m *Store) ListStaleJobs(_ context.Context, threshold time.Duration, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.StaleAsOf(now, threshold) {
			cp := *j
			stale = append(stale, &cp)
		}
	}

	sort.Slice(stale, func(a, b int) bool {
		return heartbeatTime(stale[a]).Before(heartbeatTime(stale[b]))
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// ListPendingJobs returns a tenant's pending jobs, highest priority first,
// then FIFO within a priority.
func (m *Store) ListPendingJobs(_ context.Context, tenantID string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusPending && j.TenantID == tenantID {
			cp := *j
			pending = append(pending, &cp)
		}
	}

	sort.Slice(pending, func(a, b int) bool {
		if pending[a].Priority != pending[b].Priority {
			return pending[a].Priority > pending[b].Priority
		}
		return pending[a].CreatedAt.Before(pending[b].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ListJobsByRun returns all jobs belonging to a run, oldest first.
func (m *Store) ListJobsByRun(_ context.Context, runID id.RunID) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*job.Job
	for _, j := range m.jobs {
		if j.RunID == runID {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs, nil
}

// GetJobByMessageID correlates a queue delivery to its durable record.
func (m *Store) GetJobByMessageID(_ context.Context, messageID id.MessageID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.MessageID == messageID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, durable.ErrJobNotFound
}

// ListDeadLetterJobs returns a tenant's quarantined jobs, newest first.
func (m *Store) ListDeadLetterJobs(_ context.Context, tenantID string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusDeadLetter && j.TenantID == tenantID {
			cp := *j
			dead = append(dead, &cp)
		}
	}
	sort.Slice(dead, func(a, b int) bool {
		return dead[a].UpdatedAt.After(dead[b].UpdatedAt)
	})
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

// ReplayDeadLetterJob returns a quarantined job to pending with a fresh
// attempt budget.
func (m *Store) ReplayDeadLetterJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return durable.ErrJobNotFound
	}
	if j.Status != job.StatusDeadLetter {
		return durable.ErrInvalidState
	}

	j.Status = job.StatusPending
	j.Attempts = 0
	j.Error = ""
	j.Result = nil
	j.CompletedAt = nil
	j.ClearClaim()
	j.Touch()
	return nil
}

// CleanupOldJobs purges terminal jobs older than the retention window.
func (m *Store) CleanupOldJobs(_ context.Context, retention time.Duration, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	var removed int64
	for key, j := range m.jobs {
		if limit > 0 && removed >= int64(limit) {
			break
		}
		if !j.Status.Terminal() {
			continue
		}
		done := j.UpdatedAt
		if j.CompletedAt != nil {
			done = *j.CompletedAt
		}
		if done.Before(cutoff) {
			delete(m.jobs, key)
			removed++
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return durable.ErrRunAlreadyExists
	}
	cp := r.Clone()
	m.runs[key] = cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, durable.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return durable.ErrRunNotFound
	}
	cp := r.Clone()
	cp.Touch()
	m.runs[key] = cp
	return nil
}

// CancelRun transitions a run to cancelled.
func (m *Store) CancelRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return durable.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return durable.ErrInvalidState
	}

	now := time.Now().UTC()
	r.Status = run.StatusCancelled
	r.CompletedAt = &now
	r.Touch()
	return nil
}

// SaveCheckpoint overwrites the run's checkpoint, incrementing the version
// from the stored value under the store mutex.
func (m *Store) SaveCheckpoint(_ context.Context, cp *run.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cp.RunID.String()
	var version int64 = 1
	if existing, ok := m.checkpoints[key]; ok {
		version = existing.Version + 1
	}
	cp.Version = version

	stored := cp.Clone()
	m.checkpoints[key] = stored
	return nil
}

// GetCheckpoint returns the latest checkpoint for a run.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID) (*run.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[runID.String()]
	if !ok {
		return nil, durable.ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLock grants a lease when no live lock exists. Re-acquiring by the
// current holder extends the lease.
func (m *Store) AcquireLock(_ context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := runID.String()

	if existing, ok := m.locks[key]; ok && existing.Live(now) {
		if existing.HolderID != holderID {
			return nil, durable.ErrLockHeld
		}
		existing.ExpiresAt = now.Add(ttl)
		cp := *existing
		return &cp, nil
	}

	l := &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.locks[key] = l
	cp := *l
	return &cp, nil
}

// ReleaseLock drops the lease. Missing or expired locks release as no-ops.
func (m *Store) ReleaseLock(_ context.Context, runID id.RunID, holderID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	existing, ok := m.locks[key]
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	if existing.Live(now) && existing.HolderID != holderID {
		return durable.ErrNotLockHolder
	}
	delete(m.locks, key)
	return nil
}

// RenewLock extends the holder's live lease by ttl from now.
func (m *Store) RenewLock(_ context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[runID.String()]
	if !ok {
		return nil, durable.ErrLockNotFound
	}

	now := time.Now().UTC()
	if !existing.HeldBy(holderID, now) {
		return nil, durable.ErrNotLockHolder
	}
	existing.ExpiresAt = now.Add(ttl)
	cp := *existing
	return &cp, nil
}

// GetLock returns the current lock record, expired or not.
func (m *Store) GetLock(_ context.Context, runID id.RunID) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[runID.String()]
	if !ok {
		return nil, durable.ErrLockNotFound
	}
	cp := *existing
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

func recordKey(key idem.Key, scope string) string {
	return scope + "/" + key.String()
}

// CreateRecord atomically creates the record if none exists for (key, scope).
func (m *Store) CreateRecord(_ context.Context, rec *idem.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey(rec.Key, rec.Scope)
	if _, exists := m.records[k]; exists {
		return durable.ErrRecordAlreadyExists
	}
	cp := *rec
	m.records[k] = &cp
	return nil
}

// GetRecord retrieves the record for (key, scope).
func (m *Store) GetRecord(_ context.Context, key idem.Key, scope string) (*idem.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey(key, scope)]
	if !ok {
		return nil, durable.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// CompleteRecord transitions the record to completed with the cached result.
func (m *Store) CompleteRecord(_ context.Context, key idem.Key, scope string, ownerID id.WorkerID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey(key, scope)]
	if !ok {
		return durable.ErrRecordNotFound
	}
	if rec.OwnerID != ownerID {
		return durable.ErrNotRecordOwner
	}

	now := time.Now().UTC()
	rec.Status = idem.StatusCompleted
	rec.Result = result
	rec.CompletedAt = &now
	rec.Touch()
	return nil
}

// DeleteRecord removes the record; missing records delete as a no-op.
func (m *Store) DeleteRecord(_ context.Context, key idem.Key, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, recordKey(key, scope))
	return nil
}

// TakeOverRecord atomically replaces a stale processing record.
func (m *Store) TakeOverRecord(_ context.Context, rec *idem.Record, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey(rec.Key, rec.Scope)
	existing, ok := m.records[k]
	if ok && (existing.Status != idem.StatusProcessing || existing.UpdatedAt.After(staleBefore)) {
		return durable.ErrRecordAlreadyExists
	}
	cp := *rec
	m.records[k] = &cp
	return nil
}
