// Package engine wires the durable subsystems together for one worker
// process: store, queue, registry, checkpoint manager, run locker,
// idempotency service, and the worker pool.
//
// This package exists to break the import cycle: the root durable package
// defines Entity and the sentinel errors (imported by job, run, idem, etc.)
// and so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/middleware"
	"github.com/intent-solutions-io/durable/queue"
	"github.com/intent-solutions-io/durable/run"
	"github.com/intent-solutions-io/durable/store"
	"github.com/intent-solutions-io/durable/throttle"
	"github.com/intent-solutions-io/durable/worker"
)

// Core composes the durable subsystems behind a single lifecycle.
type Core struct {
	cfg      durable.Config
	store    store.Store
	queue    queue.Queue
	registry *job.Registry
	runs     *run.Manager
	locker   *lock.Locker
	idems    *idem.Service
	throttle *throttle.Manager
	mws      []middleware.Middleware
	pool     *worker.Pool
	workerID id.WorkerID
	logger   *slog.Logger

	started bool
}

// Option configures a Core.
type Option func(*Core)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(c *Core) { c.store = s }
}

// WithQueue sets the queue transport. Defaults to the in-memory queue.
func WithQueue(q queue.Queue) Option {
	return func(c *Core) { c.queue = q }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg durable.Config) Option {
	return func(c *Core) { c.cfg = cfg }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithMiddleware appends middleware applied around every job handler.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Core) { c.mws = append(c.mws, mws...) }
}

// WithThrottle gates job admission through the manager.
func WithThrottle(m *throttle.Manager) Option {
	return func(c *Core) { c.throttle = m }
}

// WithWorkerID pins the worker identity, mainly for tests. Defaults to a
// fresh ID per process.
func WithWorkerID(workerID id.WorkerID) Option {
	return func(c *Core) { c.workerID = workerID }
}

// New constructs a Core. A store is required; everything else defaults.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		cfg:      durable.DefaultConfig(),
		registry: job.NewRegistry(),
		workerID: id.NewWorkerID(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		return nil, errors.New("durable: a store backend is required")
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.queue == nil {
		c.queue = queue.NewMemory(queue.WithConcurrency(c.cfg.Concurrency))
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	caps := run.ArtifactCaps{
		MaxItemBytes: c.cfg.MaxArtifactBytes,
		MaxDocBytes:  c.cfg.MaxCheckpointBytes,
	}
	c.runs = run.NewManager(c.store, caps, c.logger)
	c.locker = lock.NewLocker(c.store, lock.WithLogger(c.logger))
	c.idems = idem.NewService(c.store, c.workerID)

	executor := worker.NewExecutor(c.registry, c.store, c.workerID,
		worker.WithMiddleware(c.mws...),
		worker.WithLocker(c.locker, c.cfg.LockTTL),
		worker.WithHeartbeatInterval(c.cfg.HeartbeatInterval),
		worker.WithExecutorLogger(c.logger),
	)

	poolOpts := []worker.PoolOption{
		worker.WithStaleThreshold(c.cfg.StaleThreshold),
		worker.WithReapInterval(c.cfg.ReaperInterval),
		worker.WithRetention(c.cfg.RetentionWindow, time.Hour, 500),
		worker.WithPoolLogger(c.logger),
	}
	if c.throttle != nil {
		poolOpts = append(poolOpts, worker.WithThrottle(c.throttle))
	}
	c.pool = worker.NewPool(c.queue, c.store, executor, c.workerID, poolOpts...)

	return c, nil
}

// WorkerID returns this process's worker identity.
func (c *Core) WorkerID() id.WorkerID { return c.workerID }

// Registry returns the job registry for handler registration. Register
// all handlers before Start.
func (c *Core) Registry() *job.Registry { return c.registry }

// Store returns the persistence backend.
func (c *Core) Store() store.Store { return c.store }

// Runs returns the checkpoint manager.
func (c *Core) Runs() *run.Manager { return c.runs }

// Locker returns the distributed run locker.
func (c *Core) Locker() *lock.Locker { return c.locker }

// Idempotency returns the dedup service for externally-triggered work.
func (c *Core) Idempotency() *idem.Service { return c.idems }

// Start migrates the store and launches the worker pool.
func (c *Core) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("durable: migrate store: %w", err)
	}
	if err := c.pool.Start(ctx); err != nil {
		return fmt.Errorf("durable: start pool: %w", err)
	}

	c.started = true
	c.logger.Info("durable core started",
		slog.String("worker_id", c.workerID.String()),
		slog.String("queue_backend", string(c.cfg.QueueBackend)),
		slog.String("store_backend", string(c.cfg.StoreBackend)),
	)
	return nil
}

// Stop drains the worker pool, closes the queue, and closes the store.
// The context bounds the graceful drain.
func (c *Core) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}
	c.started = false

	var errs []error
	if err := c.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pool: %w", err))
	}
	if err := c.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("durable: stop: %w", errors.Join(errs...))
	}
	c.logger.Info("durable core stopped", slog.String("worker_id", c.workerID.String()))
	return nil
}

// Enqueue durably records a job and publishes its envelope. The record is
// written before the publish, so a delivery always finds its job.
func (c *Core) Enqueue(ctx context.Context, jobType, tenantID string, payload json.RawMessage, opts ...job.Option) (*job.Job, error) {
	env := queue.NewEnvelope(jobType, tenantID, payload)

	opts = append(opts, job.WithMessageID(env.ID))
	j := job.New(jobType, tenantID, payload, opts...)
	env.RunID = j.RunID
	env.Metadata = &queue.Metadata{
		MaxRetries: j.MaxRetries,
		Priority:   j.Priority,
	}

	if err := c.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("durable: enqueue %s: %w", jobType, err)
	}
	if err := c.queue.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("durable: enqueue %s: %w", jobType, err)
	}

	c.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", jobType),
		slog.String("tenant_id", tenantID),
	)
	return j, nil
}

// StartRun durably records a new run.
func (c *Core) StartRun(ctx context.Context, r *run.Run) error {
	if err := c.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("durable: start run: %w", err)
	}
	return nil
}

// CancelRun requests cancellation of a running run. In-flight step jobs
// observe the cancellation on their next heartbeat or claim cycle.
func (c *Core) CancelRun(ctx context.Context, runID id.RunID) error {
	if err := c.store.CancelRun(ctx, runID); err != nil {
		return fmt.Errorf("durable: cancel run %s: %w", runID, err)
	}
	c.logger.Info("run cancelled", slog.String("run_id", runID.String()))
	return nil
}

// DeadLetters lists a tenant's quarantined jobs for operator inspection.
func (c *Core) DeadLetters(ctx context.Context, tenantID string, limit int) ([]*job.Job, error) {
	jobs, err := c.store.ListDeadLetterJobs(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("durable: list dead letters: %w", err)
	}
	return jobs, nil
}

// ReplayDeadLetter returns a quarantined job to pending with a fresh
// attempt budget and republishes its envelope so a worker picks it up.
func (c *Core) ReplayDeadLetter(ctx context.Context, jobID id.JobID) error {
	if err := c.store.ReplayDeadLetterJob(ctx, jobID); err != nil {
		return fmt.Errorf("durable: replay %s: %w", jobID, err)
	}

	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("durable: replay %s: %w", jobID, err)
	}
	if j.MessageID.IsNil() {
		// Directly-injected job; its producer owns redelivery.
		return nil
	}

	env := &queue.Envelope{
		ID:       j.MessageID,
		Type:     j.Type,
		TenantID: j.TenantID,
		RunID:    j.RunID,
		Payload:  j.Payload,
	}
	if err := c.queue.Publish(ctx, env); err != nil {
		return fmt.Errorf("durable: replay %s: %w", jobID, err)
	}

	c.logger.Info("dead letter replayed", slog.String("job_id", jobID.String()))
	return nil
}
