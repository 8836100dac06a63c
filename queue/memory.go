package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is the in-process reference queue. Redelivery requeues at the
// tail; ordering keys are serialized by skipping messages whose key is
// currently in flight.
type Memory struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages []*Envelope
	inflight map[string]bool
	closed   bool

	concurrency int
	handlers    sync.WaitGroup
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithConcurrency bounds the number of handlers running at once.
// Defaults to 4.
func WithConcurrency(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewMemory creates an in-memory queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inflight:    make(map[string]bool),
		concurrency: 4,
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Queue = (*Memory)(nil)

// Publish enqueues one envelope at the tail. A delivery delay defers the
// append rather than blocking the caller.
func (m *Memory) Publish(_ context.Context, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	if delay := env.DeliveryDelay(); delay > 0 {
		time.AfterFunc(delay, func() { m.append(env) })
		return nil
	}
	m.append(env)
	return nil
}

// PublishBatch validates the whole batch before enqueueing anything, so a
// malformed envelope rejects the batch atomically.
func (m *Memory) PublishBatch(ctx context.Context, envs []*Envelope) error {
	for i, env := range envs {
		if err := env.Validate(); err != nil {
			return fmt.Errorf("batch index %d: %w", i, err)
		}
	}
	for _, env := range envs {
		if err := m.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) append(env *Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	env.PublishedAt = time.Now().UTC()
	m.messages = append(m.messages, env)
	m.cond.Broadcast()
}

// Subscribe delivers messages to handler until ctx is cancelled or the
// queue is closed, then waits for in-flight handlers to finish.
func (m *Memory) Subscribe(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	sem := make(chan struct{}, m.concurrency)

	for {
		env, ok := m.take(ctx)
		if !ok {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Nothing consumed the message; put it back for the next
			// subscriber.
			m.requeue(env)
			m.handlers.Wait()
			return ctx.Err()
		}

		m.handlers.Add(1)
		go func() {
			defer m.handlers.Done()
			defer func() { <-sem }()
			m.deliver(ctx, env, handler)
		}()
	}

	m.handlers.Wait()
	return ctx.Err()
}

// take blocks until a deliverable message exists (one whose ordering key
// is not in flight), marking its key in flight before returning.
func (m *Memory) take(ctx context.Context) (*Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed || ctx.Err() != nil {
			return nil, false
		}
		for i, env := range m.messages {
			key := env.OrderingKey()
			if key != "" && m.inflight[key] {
				continue
			}
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			if key != "" {
				m.inflight[key] = true
			}
			return env, true
		}
		m.cond.Wait()
	}
}

// deliver runs the handler and settles the delivery: explicit ack/nack
// wins; otherwise a handler error is an implicit nack and nil an implicit
// ack. Nacked messages requeue at the tail.
func (m *Memory) deliver(ctx context.Context, env *Envelope, handler Handler) {
	d := &memoryDelivery{env: env}
	err := handler(ctx, d)

	m.mu.Lock()
	if key := env.OrderingKey(); key != "" {
		delete(m.inflight, key)
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	switch d.state() {
	case settledAck:
	case settledNack:
		m.requeue(env)
	default:
		if err != nil {
			m.requeue(env)
		}
	}
}

func (m *Memory) requeue(env *Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.messages = append(m.messages, env)
	m.cond.Broadcast()
}

// Close stops delivery. Pending messages are dropped; a durable variant
// would rely on the broker instead.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.messages = nil
	m.cond.Broadcast()
	m.mu.Unlock()
	m.handlers.Wait()
	return nil
}

// Len reports the number of queued (not in-flight) messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

const (
	settledNone int32 = iota
	settledAck
	settledNack
)

type memoryDelivery struct {
	env     *Envelope
	mu      sync.Mutex
	settled int32
}

var _ Delivery = (*memoryDelivery)(nil)

func (d *memoryDelivery) Envelope() *Envelope { return d.env }

func (d *memoryDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled == settledNone {
		d.settled = settledAck
	}
	return nil
}

func (d *memoryDelivery) Nack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled == settledNone {
		d.settled = settledNack
	}
	return nil
}

func (d *memoryDelivery) state() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}
