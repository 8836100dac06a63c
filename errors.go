package durable

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("durable: no store configured")
	ErrNoQueue     = errors.New("durable: no queue configured")
	ErrStoreClosed = errors.New("durable: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("durable: job not found")
	ErrRunNotFound        = errors.New("durable: run not found")
	ErrCheckpointNotFound = errors.New("durable: checkpoint not found")
	ErrLockNotFound       = errors.New("durable: lock not found")
	ErrRecordNotFound     = errors.New("durable: idempotency record not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("durable: job already exists")
	ErrRunAlreadyExists    = errors.New("durable: run already exists")
	ErrRecordAlreadyExists = errors.New("durable: idempotency record already exists")
	ErrVersionConflict     = errors.New("durable: checkpoint version conflict")
	ErrLockHeld            = errors.New("durable: lock held by another worker")

	// Ownership errors. A worker receiving ErrNotClaimOwner on heartbeat
	// has lost its lease and must abort the attempt.
	ErrNotClaimOwner  = errors.New("durable: caller does not hold the claim")
	ErrNotLockHolder  = errors.New("durable: caller does not hold the lock")
	ErrNotRecordOwner = errors.New("durable: caller does not own the idempotency record")

	// State errors.
	ErrInvalidState = errors.New("durable: invalid state transition")
	ErrJobTerminal  = errors.New("durable: job is in a terminal state")
)
