// Package worker provides the job execution engine — an Executor that
// drives a claimed job through start, heartbeat, and settlement, and a
// Pool that subscribes to the queue and manages the claim cycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/middleware"
)

// Outcome reports how an execution attempt settled.
type Outcome int

const (
	// OutcomeCompleted means the job finished and was marked completed.
	OutcomeCompleted Outcome = iota
	// OutcomeRetry means the attempt failed but budget remains; the job is
	// back in pending and should be redelivered.
	OutcomeRetry
	// OutcomeExhausted means the attempt failed and the retry budget is
	// spent; the job is terminally failed.
	OutcomeExhausted
	// OutcomeDeadLettered means the job was quarantined as a poison
	// message, bypassing retry accounting.
	OutcomeDeadLettered
	// OutcomeLost means the worker's lease was revoked mid-attempt;
	// another worker owns the job now and no state was written.
	OutcomeLost
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeLost:
		return "lost"
	}
	return "unknown"
}

// Executor runs a single claimed job through the middleware chain and the
// registered handler, heartbeating the lease while the handler runs, and
// settles the result: complete, fail (budget-aware), or dead-letter.
type Executor struct {
	registry *job.Registry
	store    job.Store
	locker   *lock.Locker
	mw       middleware.Middleware
	workerID id.WorkerID

	heartbeatInterval time.Duration
	lockTTL           time.Duration

	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware sets the middleware chain applied around every handler.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithLocker enables run-level locking: jobs carrying a run ID execute
// under the run's lease so concurrent workers never mutate one run.
func WithLocker(l *lock.Locker, ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithHeartbeatInterval sets how often the lease is refreshed while a
// handler runs. Zero disables heartbeating.
func WithHeartbeatInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.heartbeatInterval = d }
}

// WithExecutorLogger sets the logger. A nil logger discards output.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an Executor for workerID.
func NewExecutor(registry *job.Registry, store job.Store, workerID id.WorkerID, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:          registry,
		store:             store,
		mw:                middleware.Chain(),
		workerID:          workerID,
		heartbeatInterval: 15 * time.Second,
		lockTTL:           time.Minute,
		logger:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Execute runs a job the caller has already claimed for this worker.
// The returned error is the handler failure (or a settlement write
// failure); the Outcome tells the caller how to settle the delivery.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		reason := fmt.Sprintf("no handler registered for job type %q", j.Type)
		if dlErr := e.store.DeadLetterJob(context.WithoutCancel(ctx), j.ID, reason); dlErr != nil {
			return OutcomeDeadLettered, fmt.Errorf("worker: dead-letter job %s: %w", j.ID, dlErr)
		}
		e.logger.Warn("job dead-lettered: unknown type",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return OutcomeDeadLettered, fault.New(fault.CodeConfiguration, reason)
	}

	if err := e.store.StartJob(ctx, j.ID, e.workerID); err != nil {
		return OutcomeLost, fmt.Errorf("worker: start job %s: %w", j.ID, err)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost atomic.Bool
	stopHeartbeat := e.startHeartbeat(attemptCtx, j.ID, cancel, &leaseLost)

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}
	invoke := func(ctx context.Context) error {
		return e.mw(ctx, j, terminal)
	}

	var err error
	if e.locker != nil && !j.RunID.IsNil() {
		err = e.locker.WithLock(attemptCtx, j.RunID, e.workerID, e.lockTTL, invoke)
	} else {
		err = invoke(attemptCtx)
	}

	stopHeartbeat()

	if leaseLost.Load() {
		// Another worker reclaimed the job; it owns the attempt now and
		// any state write from here would be a split-brain.
		e.logger.Warn("lease lost mid-attempt, abandoning",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return OutcomeLost, fmt.Errorf("worker: job %s: %w", j.ID, durable.ErrNotClaimOwner)
	}

	// Settlement writes survive caller cancellation: a shutting-down
	// worker still records what happened to the attempt.
	writeCtx := context.WithoutCancel(ctx)

	if err == nil {
		return e.settleSuccess(writeCtx, j)
	}
	return e.settleFailure(writeCtx, j, err)
}

// startHeartbeat refreshes the lease every interval until the returned
// stop function is called. A rejected heartbeat cancels the attempt.
func (e *Executor) startHeartbeat(ctx context.Context, jobID id.JobID, cancel context.CancelFunc, leaseLost *atomic.Bool) func() {
	if e.heartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := e.store.Heartbeat(context.WithoutCancel(ctx), jobID, e.workerID)
				if err == nil {
					continue
				}
				if errors.Is(err, durable.ErrNotClaimOwner) || errors.Is(err, durable.ErrJobTerminal) {
					leaseLost.Store(true)
					cancel()
					return
				}
				e.logger.Warn("heartbeat failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (e *Executor) settleSuccess(ctx context.Context, j *job.Job) (Outcome, error) {
	if err := e.store.CompleteJob(ctx, j.ID, e.workerID, nil); err != nil {
		if errors.Is(err, durable.ErrNotClaimOwner) {
			return OutcomeLost, fmt.Errorf("worker: complete job %s: %w", j.ID, err)
		}
		return OutcomeCompleted, fmt.Errorf("worker: complete job %s: %w", j.ID, err)
	}

	e.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempt", j.Attempts),
	)
	return OutcomeCompleted, nil
}

// lockContended reports whether the attempt failed on run-lease
// contention. The lock error is non-retryable for its immediate caller,
// but from the job's perspective the condition is transient: the holder
// finishes and a later delivery succeeds.
func lockContended(err error) bool {
	if errors.Is(err, durable.ErrLockHeld) {
		return true
	}
	if fe := fault.As(err); fe != nil {
		return fe.Code == fault.CodeLockConflict
	}
	return false
}

func (e *Executor) settleFailure(ctx context.Context, j *job.Job, handlerErr error) (Outcome, error) {
	if !fault.IsRetryable(handlerErr) && !lockContended(handlerErr) {
		if dlErr := e.store.DeadLetterJob(ctx, j.ID, handlerErr.Error()); dlErr != nil {
			return OutcomeDeadLettered, fmt.Errorf("worker: dead-letter job %s: %w", j.ID, dlErr)
		}
		e.logger.Warn("job dead-lettered: permanent failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", handlerErr.Error()),
		)
		return OutcomeDeadLettered, handlerErr
	}

	if failErr := e.store.FailJob(ctx, j.ID, e.workerID, handlerErr.Error()); failErr != nil {
		if errors.Is(failErr, durable.ErrNotClaimOwner) {
			return OutcomeLost, fmt.Errorf("worker: fail job %s: %w", j.ID, failErr)
		}
		return OutcomeRetry, fmt.Errorf("worker: fail job %s: %w", j.ID, failErr)
	}

	if j.Attempts >= j.MaxRetries {
		e.logger.Error("job failed, retry budget exhausted",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempts", j.Attempts),
			slog.String("error", handlerErr.Error()),
		)
		return OutcomeExhausted, handlerErr
	}

	e.logger.Info("job attempt failed, will retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_retries", j.MaxRetries),
		slog.String("error", handlerErr.Error()),
	)
	return OutcomeRetry, handlerErr
}
