// Package queue defines the job queue abstraction: publish/subscribe
// transport carrying typed envelopes between producers and worker pools,
// with at-least-once delivery and per-ordering-key serialization.
//
// Two implementations share the contract: [Memory], an in-process
// reference used by tests and single-node deployments, and [AMQP], backed
// by a RabbitMQ broker. Unacknowledged or nacked deliveries are
// redelivered; a handler returning an error is an implicit nack.
package queue

import "context"

// Delivery is the acknowledgement handle passed to a subscriber handler.
type Delivery interface {
	// Envelope returns the delivered message.
	Envelope() *Envelope

	// Ack marks the delivery processed; it will not be redelivered.
	Ack() error

	// Nack returns the delivery for redelivery.
	Nack() error
}

// Handler processes one delivery. Returning a non-nil error is an
// implicit Nack; returning nil without an explicit Ack is an implicit Ack.
type Handler func(ctx context.Context, d Delivery) error

// Queue is the publish/subscribe transport contract.
type Queue interface {
	// Publish enqueues one envelope. A malformed envelope fails
	// synchronously and is not enqueued.
	Publish(ctx context.Context, env *Envelope) error

	// PublishBatch enqueues envelopes in order. Validation runs for the
	// whole batch before anything is enqueued, so a malformed envelope
	// rejects the batch atomically.
	PublishBatch(ctx context.Context, envs []*Envelope) error

	// Subscribe invokes handler for every delivered message until ctx is
	// cancelled or the queue is closed. Messages sharing an ordering key
	// are handled serially, in publish order.
	Subscribe(ctx context.Context, handler Handler) error

	// Close stops delivery and releases resources.
	Close() error
}
