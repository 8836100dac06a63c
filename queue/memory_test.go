package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intent-solutions-io/durable/queue"
)

func envelope(msgType string) *queue.Envelope {
	return queue.NewEnvelope(msgType, "tenant-1", []byte(`{"k":"v"}`))
}

// subscribe runs a subscriber in the background and returns a cancel func.
func subscribe(t *testing.T, q *queue.Memory, handler queue.Handler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Subscribe(ctx, handler)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("subscriber did not stop")
		}
	})
	return cancel
}

func TestMemory_PublishDelivers(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	defer q.Close()

	got := make(chan *queue.Envelope, 1)
	subscribe(t, q, func(_ context.Context, d queue.Delivery) error {
		got <- d.Envelope()
		return d.Ack()
	})

	want := envelope("run.start")
	if err := q.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-got:
		if env.ID != want.ID {
			t.Fatalf("delivered %v, want %v", env.ID, want.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemory_PublishRejectsMalformed(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	defer q.Close()
	ctx := context.Background()

	tests := []struct {
		name string
		env  *queue.Envelope
	}{
		{"missing type", queue.NewEnvelope("", "tenant-1", nil)},
		{"missing tenant", queue.NewEnvelope("run.start", "", nil)},
		{"invalid payload", queue.NewEnvelope("run.start", "tenant-1", []byte(`{not json`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := q.Publish(ctx, tt.env); err == nil {
				t.Fatal("expected synchronous validation error")
			}
		})
	}
	if q.Len() != 0 {
		t.Fatalf("queue holds %d messages, want 0", q.Len())
	}
}

func TestMemory_PublishBatchAtomicValidation(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	defer q.Close()

	batch := []*queue.Envelope{
		envelope("run.start"),
		queue.NewEnvelope("", "tenant-1", nil), // malformed
		envelope("run.start"),
	}
	if err := q.PublishBatch(context.Background(), batch); err == nil {
		t.Fatal("expected batch rejection")
	}
	if q.Len() != 0 {
		t.Fatalf("queue holds %d messages after rejected batch, want 0", q.Len())
	}
}

func TestMemory_NackRedeliversAtTail(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(queue.WithConcurrency(1))
	defer q.Close()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	nacked := false

	subscribe(t, q, func(_ context.Context, d queue.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		env := d.Envelope()
		if env.Type == "first" && !nacked {
			nacked = true
			return d.Nack()
		}
		order = append(order, env.Type)
		if len(order) == 2 {
			close(done)
		}
		return d.Ack()
	})

	ctx := context.Background()
	if err := q.Publish(ctx, envelope("first")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.Publish(ctx, envelope("second")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("redelivery did not happen")
	}

	mu.Lock()
	defer mu.Unlock()
	// The nacked message went to the tail, behind "second".
	if order[0] != "second" || order[1] != "first" {
		t.Fatalf("order = %v, want [second first]", order)
	}
}

func TestMemory_HandlerErrorIsImplicitNack(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	defer q.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	subscribe(t, q, func(_ context.Context, d queue.Delivery) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient handler failure")
		}
		close(done)
		return d.Ack()
	})

	if err := q.Publish(context.Background(), envelope("run.start")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("errored delivery was not redelivered")
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestMemory_OrderingKeySerializesDelivery(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(queue.WithConcurrency(8))
	defer q.Close()

	const perKey = 5
	var mu sync.Mutex
	seen := map[string][]int{}
	var active sync.Map
	var wg sync.WaitGroup
	wg.Add(2 * perKey)

	subscribe(t, q, func(_ context.Context, d queue.Delivery) error {
		defer wg.Done()
		env := d.Envelope()
		key := env.Metadata.OrderingKey

		// No two messages for the same key may be in flight at once.
		if _, loaded := active.LoadOrStore(key, true); loaded {
			t.Errorf("concurrent delivery for ordering key %q", key)
		}
		time.Sleep(2 * time.Millisecond)
		active.Delete(key)

		var p struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		mu.Lock()
		seen[key] = append(seen[key], p.Seq)
		mu.Unlock()
		return d.Ack()
	})

	ctx := context.Background()
	for seq := range perKey {
		for _, key := range []string{"run-a", "run-b"} {
			env := queue.NewEnvelope("run.step", "tenant-1", seqPayload(seq))
			env.Metadata = &queue.Metadata{OrderingKey: key}
			if err := q.Publish(ctx, env); err != nil {
				t.Fatalf("Publish: %v", err)
			}
		}
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		t.Fatal("not all messages delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for key, seqs := range seen {
		for i := 1; i < len(seqs); i++ {
			if seqs[i] < seqs[i-1] {
				t.Fatalf("key %q delivered out of order: %v", key, seqs)
			}
		}
	}
}

func TestMemory_DelayedDelivery(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	defer q.Close()

	delivered := make(chan time.Time, 1)
	subscribe(t, q, func(_ context.Context, d queue.Delivery) error {
		delivered <- time.Now()
		return d.Ack()
	})

	env := envelope("run.start")
	env.Metadata = &queue.Metadata{Delay: 50 * time.Millisecond}
	published := time.Now()
	if err := q.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case at := <-delivered:
		if elapsed := at.Sub(published); elapsed < 40*time.Millisecond {
			t.Fatalf("delivered after %v, want >= ~50ms", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delayed message never delivered")
	}
}

func seqPayload(seq int) []byte {
	data, _ := json.Marshal(map[string]int{"seq": seq})
	return data
}
