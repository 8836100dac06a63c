package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/backoff"
	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/queue"
	"github.com/intent-solutions-io/durable/store/memory"
	"github.com/intent-solutions-io/durable/throttle"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startPool(t *testing.T, s *memory.Store, registry *job.Registry, opts ...PoolOption) (*Pool, *queue.Memory) {
	t.Helper()

	q := queue.NewMemory()
	workerID := id.NewWorkerID()
	e := NewExecutor(registry, s, workerID, WithHeartbeatInterval(0))

	opts = append([]PoolOption{
		WithBackoff(backoff.NewConstant(time.Millisecond)),
		WithStaleThreshold(time.Minute),
		WithReapInterval(0),
	}, opts...)
	p := NewPool(q, s, e, workerID, opts...)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
		_ = q.Close()
	})
	return p, q
}

func TestPool_ProcessesDelivery(t *testing.T) {
	s := memory.New()

	var count atomic.Int32
	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		count.Add(1)
		return nil
	})

	_, q := startPool(t, s, registry)

	env := queue.NewEnvelope("notify.send", "tenant-1", []byte(`{"to":"ops"}`))
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusCompleted
	})

	if got := count.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	s := memory.New()

	var count atomic.Int32
	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		if count.Add(1) < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	_, q := startPool(t, s, registry)

	env := queue.NewEnvelope("notify.send", "tenant-1", nil)
	env.Metadata = &queue.Metadata{MaxRetries: 5}
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusCompleted
	})

	j, _ := s.GetJobByMessageID(context.Background(), env.ID)
	if j.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", j.Attempts)
	}
}

func TestPool_PermanentFailureQuarantines(t *testing.T) {
	s := memory.New()

	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		return fault.New(fault.CodeValidation, "recipient address is malformed")
	})

	_, q := startPool(t, s, registry)

	env := queue.NewEnvelope("notify.send", "tenant-1", nil)
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusDeadLetter
	})
}

func TestPool_DuplicateDeliveryIsAbsorbed(t *testing.T) {
	s := memory.New()

	var count atomic.Int32
	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		count.Add(1)
		return nil
	})

	_, q := startPool(t, s, registry)

	env := queue.NewEnvelope("notify.send", "tenant-1", nil)
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusCompleted
	})

	// Redeliver the same message; the settled job must not rerun.
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return q.Len() == 0
	})
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestPool_EnvelopeMetadataShapesJob(t *testing.T) {
	s := memory.New()

	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		return nil
	})

	_, q := startPool(t, s, registry)

	runID := id.NewRunID()
	env := queue.NewEnvelope("notify.send", "tenant-1", nil)
	env.RunID = runID
	env.Metadata = &queue.Metadata{MaxRetries: 7, Priority: 9}
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusCompleted
	})

	j, err := s.GetJobByMessageID(context.Background(), env.ID)
	if err != nil {
		t.Fatalf("GetJobByMessageID: %v", err)
	}
	if j.MaxRetries != 7 {
		t.Errorf("max retries = %d, want 7", j.MaxRetries)
	}
	if j.Priority != 9 {
		t.Errorf("priority = %d, want 9", j.Priority)
	}
	if j.RunID != runID {
		t.Errorf("run id = %s, want %s", j.RunID, runID)
	}
}

func TestPool_ReaperRepublishesStaleJobs(t *testing.T) {
	s := memory.New()

	var count atomic.Int32
	registry := job.NewRegistry()
	registry.Register("notify.send", func(ctx context.Context, payload []byte) error {
		count.Add(1)
		return nil
	})

	// A crashed worker left a claimed job with a lapsed heartbeat.
	crashed := id.NewWorkerID()
	msgID := id.NewMessageID()
	orphan := job.New("notify.send", "tenant-1", nil, job.WithMessageID(msgID))
	if err := s.CreateJob(context.Background(), orphan); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimJob(context.Background(), orphan.ID, crashed, time.Minute); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, _ = startPool(t, s, registry,
		WithStaleThreshold(time.Millisecond),
		WithReapInterval(10*time.Millisecond),
	)

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJob(context.Background(), orphan.ID)
		return err == nil && j.Status == job.StatusCompleted
	})

	j, _ := s.GetJob(context.Background(), orphan.ID)
	if j.Attempts < 2 {
		t.Fatalf("attempts = %d, want at least 2 (crashed claim + reclaim)", j.Attempts)
	}
	// The original worker's heartbeat must now be rejected.
	if err := s.Heartbeat(context.Background(), orphan.ID, crashed); !errors.Is(err, durable.ErrJobTerminal) {
		t.Fatalf("Heartbeat after completion = %v, want ErrJobTerminal", err)
	}
}

type stubDelivery struct {
	env    *queue.Envelope
	acked  bool
	nacked bool
}

var _ queue.Delivery = (*stubDelivery)(nil)

func (d *stubDelivery) Envelope() *queue.Envelope { return d.env }
func (d *stubDelivery) Ack() error                { d.acked = true; return nil }
func (d *stubDelivery) Nack() error               { d.nacked = true; return nil }

func TestPool_ThrottledDeliveryIsHeldBack(t *testing.T) {
	s := memory.New()
	m := throttle.NewManager(throttle.Config{Topic: "bulk.import", MaxConcurrency: 1})
	if !m.Acquire("bulk.import", "tenant-1") {
		t.Fatal("seed Acquire refused")
	}
	defer m.Release("bulk.import", "tenant-1")

	workerID := id.NewWorkerID()
	e := NewExecutor(job.NewRegistry(), s, workerID, WithHeartbeatInterval(0))
	p := NewPool(queue.NewMemory(), s, e, workerID,
		WithThrottle(m),
		WithThrottlePause(30*time.Millisecond),
	)

	d := &stubDelivery{env: queue.NewEnvelope("bulk.import", "tenant-1", nil)}
	start := time.Now()
	if err := p.handleDelivery(context.Background(), d); err != nil {
		t.Fatalf("handleDelivery: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("refused delivery returned after %v, want at least the pause", elapsed)
	}
	if !d.nacked || d.acked {
		t.Fatalf("refused delivery should be nacked (acked=%v nacked=%v)", d.acked, d.nacked)
	}
	// Admission refusal happens before job resolution; no attempt is
	// consumed and no record is created.
	if _, err := s.GetJobByMessageID(context.Background(), d.env.ID); !errors.Is(err, durable.ErrJobNotFound) {
		t.Fatalf("refused delivery must not create a job record, got %v", err)
	}
}

func TestPool_ExpiredDeliveryIsQuarantined(t *testing.T) {
	s := memory.New()

	var count atomic.Int32
	registry := job.NewRegistry()
	registry.Register("report.build", func(ctx context.Context, payload []byte) error {
		count.Add(1)
		return nil
	})

	_, q := startPool(t, s, registry)

	past := time.Now().Add(-time.Minute)
	env := queue.NewEnvelope("report.build", "tenant-1", nil)
	env.Metadata = &queue.Metadata{Deadline: &past}
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		j, err := s.GetJobByMessageID(context.Background(), env.ID)
		return err == nil && j.Status == job.StatusDeadLetter
	})

	if got := count.Load(); got != 0 {
		t.Fatalf("handler ran %d times for an expired delivery, want 0", got)
	}
}
