package idem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
)

// WorkFunc executes the deduplicated work and returns its cacheable result.
type WorkFunc func(ctx context.Context) (json.RawMessage, error)

// Service is the idempotency entry point used by the webhook ingress.
type Service struct {
	store     Store
	ownerID   id.WorkerID
	freshness time.Duration
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFreshness sets the window during which a processing record blocks
// takeover. Defaults to 2 minutes, matching the job stale-lease threshold.
func WithFreshness(d time.Duration) ServiceOption {
	return func(s *Service) { s.freshness = d }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an idempotency service. ownerID identifies this
// process in records it creates, so concurrent callers can report who is
// doing the work.
func NewService(store Store, ownerID id.WorkerID, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		ownerID:   ownerID,
		freshness: 2 * time.Minute,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// ProcessOptions carries optional metadata for a Process call.
type ProcessOptions struct {
	// RunID links the record to the run executing the trigger.
	RunID id.RunID
}

// ProcessOption configures a single Process call.
type ProcessOption func(*ProcessOptions)

// WithRun links the record to a run.
func WithRun(runID id.RunID) ProcessOption {
	return func(o *ProcessOptions) { o.RunID = runID }
}

// Process executes work at most once per (key, scope).
//
// The first caller transactionally creates a processing record and runs
// work; on success the result is cached and returned, on failure the
// record is deleted so a later delivery retries cleanly. A caller
// arriving while the record is completed gets the cached result without
// invoking work. A caller arriving while the record is fresh and
// processing gets an *InProgressError naming the current owner and run.
// A processing record whose owner stopped updating it past the freshness
// window is taken over.
func (s *Service) Process(ctx context.Context, key Key, scope string, input []byte, work WorkFunc, opts ...ProcessOption) (json.RawMessage, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var po ProcessOptions
	for _, opt := range opts {
		opt(&po)
	}

	rec := NewRecord(key, scope, input, s.ownerID, po.RunID)

	err := s.store.CreateRecord(ctx, rec)
	if errors.Is(err, durable.ErrRecordAlreadyExists) {
		return s.handleExisting(ctx, rec, key, scope, work)
	}
	if err != nil {
		return nil, fmt.Errorf("idem: create record %s: %w", key, err)
	}

	return s.execute(ctx, key, scope, work)
}

// handleExisting resolves a create conflict: cached result, in-progress
// signal, or takeover of a stale record.
func (s *Service) handleExisting(ctx context.Context, rec *Record, key Key, scope string, work WorkFunc) (json.RawMessage, error) {
	existing, err := s.store.GetRecord(ctx, key, scope)
	if errors.Is(err, durable.ErrRecordNotFound) {
		// The record vanished between create and get (owner failed and
		// deleted it). Surface in-progress; the next delivery will retry.
		return nil, &InProgressError{Key: key, Scope: scope}
	}
	if err != nil {
		return nil, fmt.Errorf("idem: get record %s: %w", key, err)
	}

	if existing.Status == StatusCompleted {
		s.logger.Debug("returning cached result",
			slog.String("key", key.String()),
			slog.String("scope", scope),
		)
		return existing.Result, nil
	}

	staleBefore := time.Now().Add(-s.freshness)
	if existing.UpdatedAt.After(staleBefore) {
		return nil, &InProgressError{
			Key:       key,
			Scope:     scope,
			OwnerID:   existing.OwnerID,
			RunID:     existing.RunID,
			StartedAt: existing.StartedAt,
		}
	}

	// The owner is presumed crashed; take the record over atomically.
	if err := s.store.TakeOverRecord(ctx, rec, staleBefore); err != nil {
		if errors.Is(err, durable.ErrRecordAlreadyExists) {
			// Lost the takeover race; report the record as in progress.
			return nil, &InProgressError{
				Key:       key,
				Scope:     scope,
				OwnerID:   existing.OwnerID,
				RunID:     existing.RunID,
				StartedAt: existing.StartedAt,
			}
		}
		return nil, fmt.Errorf("idem: take over record %s: %w", key, err)
	}

	s.logger.Warn("took over stale idempotency record",
		slog.String("key", key.String()),
		slog.String("previous_owner", existing.OwnerID.String()),
	)
	return s.execute(ctx, key, scope, work)
}

// execute runs work under the freshly created record.
func (s *Service) execute(ctx context.Context, key Key, scope string, work WorkFunc) (json.RawMessage, error) {
	result, workErr := work(ctx)
	if workErr != nil {
		// Delete rather than mark failed, so a later delivery retries
		// cleanly instead of being answered from a failure cache.
		if delErr := s.store.DeleteRecord(ctx, key, scope); delErr != nil {
			s.logger.Error("failed to delete record after work failure",
				slog.String("key", key.String()),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, workErr
	}

	if err := s.store.CompleteRecord(ctx, key, scope, s.ownerID, result); err != nil {
		return nil, fmt.Errorf("idem: complete record %s: %w", key, err)
	}
	return result, nil
}
