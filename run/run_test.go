package run_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/run"
)

// stubStore is a minimal in-memory run.Store for manager tests. The real
// reference implementation lives in store/memory.
type stubStore struct {
	mu          sync.Mutex
	runs        map[id.RunID]*run.Run
	checkpoints map[id.RunID]*run.Checkpoint
}

func newStubStore() *stubStore {
	return &stubStore{
		runs:        make(map[id.RunID]*run.Run),
		checkpoints: make(map[id.RunID]*run.Checkpoint),
	}
}

func (s *stubStore) CreateRun(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

func (s *stubStore) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, durable.ErrRunNotFound
	}
	return r, nil
}

func (s *stubStore) UpdateRun(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

func (s *stubStore) CancelRun(_ context.Context, runID id.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return durable.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return durable.ErrInvalidState
	}
	r.Status = run.StatusCancelled
	return nil
}

func (s *stubStore) SaveCheckpoint(_ context.Context, cp *run.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.checkpoints[cp.RunID]; ok {
		cp.Version = prev.Version + 1
	} else {
		cp.Version = 1
	}
	s.checkpoints[cp.RunID] = cp
	return nil
}

func (s *stubStore) GetCheckpoint(_ context.Context, runID id.RunID) (*run.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, durable.ErrCheckpointNotFound
	}
	return cp, nil
}

func threeStepRun() *run.Run {
	return run.New("tenant-1", []run.Step{
		{ID: "step-1", Name: "clone", Status: run.StepCompleted},
		{ID: "step-2", Name: "analyze", Status: run.StepCompleted},
		{ID: "step-3", Name: "apply", Status: run.StepRunning},
	})
}

func TestRun_CompletedStepIDs(t *testing.T) {
	t.Parallel()

	r := threeStepRun()
	got := r.CompletedStepIDs()
	want := []string{"step-1", "step-2"}
	if len(got) != len(want) {
		t.Fatalf("CompletedStepIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CompletedStepIDs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_FailedStepID(t *testing.T) {
	t.Parallel()

	r := threeStepRun()
	if got := r.FailedStepID(); got != "" {
		t.Errorf("FailedStepID = %q, want empty", got)
	}

	r.Steps[2].Status = run.StepFailed
	if got := r.FailedStepID(); got != "step-3" {
		t.Errorf("FailedStepID = %q, want %q", got, "step-3")
	}
}

func TestManager_CreateCheckpoint(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	mgr := run.NewManager(store, run.DefaultArtifactCaps(), nil)
	ctx := context.Background()

	r := threeStepRun()
	r.CurrentStepIndex = 2

	cp, err := mgr.CreateCheckpoint(ctx, r, map[string]any{"branch": "main"}, run.ReasonPeriodic)
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	if cp.Version != 1 {
		t.Errorf("Version = %d, want 1", cp.Version)
	}
	if cp.CurrentStepName != "apply" {
		t.Errorf("CurrentStepName = %q, want %q", cp.CurrentStepName, "apply")
	}
	if len(cp.CompletedSteps) != 2 {
		t.Errorf("CompletedSteps = %v, want 2 entries", cp.CompletedSteps)
	}
	if cp.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q, want %q", cp.TenantID, "tenant-1")
	}
}

func TestManager_VersionsIncrease(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	mgr := run.NewManager(store, run.DefaultArtifactCaps(), nil)
	ctx := context.Background()
	r := threeStepRun()

	var last int64
	for i := range 5 {
		cp, err := mgr.CreateCheckpoint(ctx, r, nil, run.ReasonPeriodic)
		if err != nil {
			t.Fatalf("CreateCheckpoint %d: %v", i, err)
		}
		if cp.Version <= last {
			t.Fatalf("version %d not greater than previous %d", cp.Version, last)
		}
		last = cp.Version
	}
}

func TestManager_TruncatesOversizedArtifact(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	caps := run.ArtifactCaps{MaxItemBytes: 64, MaxDocBytes: 256}
	mgr := run.NewManager(store, caps, nil)
	ctx := context.Background()
	r := threeStepRun()

	cp, err := mgr.CreateCheckpoint(ctx, r, map[string]any{
		"diff": strings.Repeat("x", 1000),
	}, run.ReasonPreFailure)
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	entry, ok := cp.Artifacts["diff"]
	if !ok {
		t.Fatal("artifact key dropped")
	}
	if _, truncated := run.Truncated(entry); !truncated {
		t.Fatalf("expected truncation marker, got %s", entry)
	}
}

func TestManager_GetCheckpoint(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	mgr := run.NewManager(store, run.DefaultArtifactCaps(), nil)
	ctx := context.Background()
	r := threeStepRun()

	if _, err := mgr.GetCheckpoint(ctx, r.ID); err == nil {
		t.Fatal("expected error before first checkpoint")
	}

	want, err := mgr.CreateCheckpoint(ctx, r, nil, run.ReasonManual)
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	got, err := mgr.GetCheckpoint(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got.Version != want.Version || got.RunID != want.RunID {
		t.Fatalf("GetCheckpoint = %+v, want %+v", got, want)
	}
}
