package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/resilience"
)

// stubStore is a minimal in-memory lock.Store for locker tests. The real
// reference implementation lives in store/memory.
type stubStore struct {
	mu    sync.Mutex
	locks map[id.RunID]*lock.Lock
}

func newStubStore() *stubStore {
	return &stubStore{locks: make(map[id.RunID]*lock.Lock)}
}

func (s *stubStore) AcquireLock(_ context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.locks[runID]; ok && existing.Live(now) && existing.HolderID != holderID {
		return nil, durable.ErrLockHeld
	}

	lk := &lock.Lock{
		RunID:      runID,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.locks[runID] = lk
	cp := *lk
	return &cp, nil
}

func (s *stubStore) ReleaseLock(_ context.Context, runID id.RunID, holderID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[runID]
	if !ok || !existing.Live(time.Now()) {
		return nil
	}
	if existing.HolderID != holderID {
		return durable.ErrNotLockHolder
	}
	delete(s.locks, runID)
	return nil
}

func (s *stubStore) RenewLock(_ context.Context, runID id.RunID, holderID id.WorkerID, ttl time.Duration) (*lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[runID]
	if !ok {
		return nil, durable.ErrLockNotFound
	}
	if !existing.HeldBy(holderID, time.Now()) {
		return nil, durable.ErrNotLockHolder
	}
	existing.ExpiresAt = time.Now().Add(ttl)
	cp := *existing
	return &cp, nil
}

func (s *stubStore) GetLock(_ context.Context, runID id.RunID) (*lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[runID]
	if !ok {
		return nil, durable.ErrLockNotFound
	}
	return existing, nil
}

// fastConflictRetry keeps lock tests quick.
func fastConflictRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     time.Millisecond,
	}
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store)
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()

	lk, err := locker.Acquire(ctx, runID, holder, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lk.HolderID != holder {
		t.Errorf("HolderID = %v, want %v", lk.HolderID, holder)
	}
	if !lk.Live(time.Now()) {
		t.Error("freshly acquired lock should be live")
	}

	if err := locker.Release(ctx, runID, holder); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// The run is free for the next holder.
	other := id.NewWorkerID()
	if _, err := locker.Acquire(ctx, runID, other, time.Minute); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestLocker_ConflictAfterExhaustedRetries(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store, lock.WithRetryConfig(fastConflictRetry()))
	ctx := context.Background()
	runID := id.NewRunID()
	first := id.NewWorkerID()
	second := id.NewWorkerID()

	if _, err := locker.Acquire(ctx, runID, first, time.Hour); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err := locker.Acquire(ctx, runID, second, time.Hour)
	if err == nil {
		t.Fatal("expected conflict")
	}
	if fault.CodeOf(err) != fault.CodeLockConflict {
		t.Errorf("code = %q, want lock_conflict", fault.CodeOf(err))
	}
	if fault.IsRetryable(err) {
		t.Error("exhausted conflict must propagate non-retryable")
	}
	fe := fault.As(err)
	if fe == nil {
		t.Fatal("expected taxonomy error in chain")
	}
	if got := fe.Context["holder_id"]; got != first.String() {
		t.Errorf("holder_id context = %v, want %v", got, first)
	}
}

func TestLocker_ConflictRetriesUntilReleased(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store, lock.WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 5 * time.Millisecond,
		Multiplier:   1,
		MaxDelay:     5 * time.Millisecond,
	}))
	ctx := context.Background()
	runID := id.NewRunID()
	first := id.NewWorkerID()
	second := id.NewWorkerID()

	if _, err := locker.Acquire(ctx, runID, first, time.Hour); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = locker.Release(ctx, runID, first)
	}()

	if _, err := locker.Acquire(ctx, runID, second, time.Minute); err != nil {
		t.Fatalf("Acquire should succeed once holder releases: %v", err)
	}
}

func TestLocker_ExpiredLockIsReclaimable(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store, lock.WithRetryConfig(fastConflictRetry()))
	ctx := context.Background()
	runID := id.NewRunID()
	crashed := id.NewWorkerID()
	successor := id.NewWorkerID()

	if _, err := locker.Acquire(ctx, runID, crashed, 10*time.Millisecond); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	lk, err := locker.Acquire(ctx, runID, successor, time.Minute)
	if err != nil {
		t.Fatalf("Acquire of expired lock: %v", err)
	}
	if lk.HolderID != successor {
		t.Errorf("HolderID = %v, want successor %v", lk.HolderID, successor)
	}
}

func TestLocker_ReacquireExtendsOwnLease(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store)
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()

	first, err := locker.Acquire(ctx, runID, holder, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := locker.Acquire(ctx, runID, holder, 2*time.Minute)
	if err != nil {
		t.Fatalf("re-Acquire by holder: %v", err)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Error("re-acquire should extend the lease")
	}
}

func TestLocker_ReleaseByNonHolder(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store)
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()
	intruder := id.NewWorkerID()

	if _, err := locker.Acquire(ctx, runID, holder, time.Hour); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	err := locker.Release(ctx, runID, intruder)
	if !errors.Is(err, durable.ErrNotLockHolder) {
		t.Fatalf("got %v, want ErrNotLockHolder", err)
	}

	// Releasing a lock that does not exist is a no-op.
	if err := locker.Release(ctx, id.NewRunID(), intruder); err != nil {
		t.Fatalf("release of missing lock: %v", err)
	}
}

func TestLocker_Renew(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store)
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()

	first, err := locker.Acquire(ctx, runID, holder, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	renewed, err := locker.Renew(ctx, runID, holder, 5*time.Minute)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if !renewed.ExpiresAt.After(first.ExpiresAt) {
		t.Error("renew should extend expiry")
	}

	// A non-holder cannot renew.
	if _, err := locker.Renew(ctx, runID, id.NewWorkerID(), time.Minute); !errors.Is(err, durable.ErrNotLockHolder) {
		t.Fatalf("got %v, want ErrNotLockHolder", err)
	}
}

func TestLocker_WithLock(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store, lock.WithRetryConfig(fastConflictRetry()))
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()

	ran := false
	err := locker.WithLock(ctx, runID, holder, time.Minute, func(context.Context) error {
		ran = true
		// While fn runs, the run is locked against other holders.
		if _, err := store.AcquireLock(ctx, runID, id.NewWorkerID(), time.Minute); !errors.Is(err, durable.ErrLockHeld) {
			t.Errorf("expected ErrLockHeld during critical section, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("fn not invoked")
	}

	// Lock released afterwards.
	if _, err := store.AcquireLock(ctx, runID, id.NewWorkerID(), time.Minute); err != nil {
		t.Fatalf("lock not released after WithLock: %v", err)
	}
}

func TestLocker_WithLockPropagatesFnError(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	locker := lock.NewLocker(store)
	ctx := context.Background()
	runID := id.NewRunID()
	holder := id.NewWorkerID()

	want := errors.New("step failed")
	err := locker.WithLock(ctx, runID, holder, time.Minute, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}

	// Lock still released after a failed fn.
	if _, err := store.AcquireLock(ctx, runID, id.NewWorkerID(), time.Minute); err != nil {
		t.Fatalf("lock not released after failed fn: %v", err)
	}
}
