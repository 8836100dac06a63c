package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/backoff"
	"github.com/intent-solutions-io/durable/id"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/queue"
	"github.com/intent-solutions-io/durable/throttle"
)

// Pool consumes the job queue and drives claimed jobs through the
// Executor. It also runs the maintenance loops: the stale reaper that
// republishes orphaned jobs and the retention sweep that purges old
// terminal jobs.
type Pool struct {
	queue    queue.Queue
	store    job.Store
	executor *Executor
	throttle *throttle.Manager
	backoff  backoff.Strategy
	workerID id.WorkerID
	logger   *slog.Logger

	staleThreshold  time.Duration
	reapInterval    time.Duration
	reapBatch       int
	retention       time.Duration
	cleanupInterval time.Duration
	cleanupBatch    int
	throttlePause   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithThrottle gates job admission through the manager. Jobs refused
// admission are redelivered rather than counted as attempts.
func WithThrottle(m *throttle.Manager) PoolOption {
	return func(p *Pool) { p.throttle = m }
}

// WithThrottlePause sets how long a refused delivery is held before it is
// returned to the queue. Defaults to one second.
func WithThrottlePause(d time.Duration) PoolOption {
	return func(p *Pool) { p.throttlePause = d }
}

// WithBackoff sets the delay strategy applied before a failed attempt is
// redelivered.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// WithStaleThreshold sets the lease age beyond which claimed jobs are
// considered abandoned and reclaimable.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// WithReapInterval sets how often the pool sweeps for stale jobs and
// republishes them. Zero disables the reaper.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithRetention enables the terminal-job purge: completed and failed
// jobs older than retention are deleted every interval, at most batch
// per sweep. A zero retention or interval disables the sweep.
func WithRetention(retention, interval time.Duration, batch int) PoolOption {
	return func(p *Pool) {
		p.retention = retention
		p.cleanupInterval = interval
		if batch > 0 {
			p.cleanupBatch = batch
		}
	}
}

// WithPoolLogger sets the logger. A nil logger discards output.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool. The executor must be built for the same
// workerID so claims and settlements agree on ownership.
func NewPool(q queue.Queue, store job.Store, executor *Executor, workerID id.WorkerID, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:          q,
		store:          store,
		executor:       executor,
		backoff:        backoff.DefaultStrategy(),
		workerID:       workerID,
		logger:         slog.New(slog.DiscardHandler),
		staleThreshold: 5 * time.Minute,
		reapInterval:   time.Minute,
		reapBatch:      100,
		cleanupBatch:   500,
		throttlePause:  time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the subscriber and maintenance loops. It returns
// immediately; processing continues until Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Duration("stale_threshold", p.staleThreshold),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.queue.Subscribe(runCtx, p.handleDelivery); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("queue subscription ended", slog.String("error", err.Error()))
		}
	}()

	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reapLoop(runCtx)
	}

	if p.retention > 0 && p.cleanupInterval > 0 {
		p.wg.Add(1)
		go p.cleanupLoop(runCtx)
	}

	return nil
}

// Stop halts the pool and waits for in-flight work, up to ctx's deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

// handleDelivery processes one queue delivery end to end: admission,
// job resolution, claim, execution, and settlement of the delivery.
func (p *Pool) handleDelivery(ctx context.Context, d queue.Delivery) error {
	env := d.Envelope()

	if p.throttle != nil && !p.throttle.Acquire(env.Type, env.TenantID) {
		p.logger.Debug("delivery throttled",
			slog.String("message_id", env.ID.String()),
			slog.String("tenant_id", env.TenantID),
		)
		// Hold the delivery back so redelivery does not spin while the
		// tenant is rate-limited.
		p.sleep(ctx, p.throttlePause)
		return d.Nack()
	}
	if p.throttle != nil {
		defer p.throttle.Release(env.Type, env.TenantID)
	}

	j, err := p.resolveJob(ctx, env)
	if err != nil {
		p.logger.Error("resolve job failed",
			slog.String("message_id", env.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if env.PastDeadline(time.Now()) {
		// Stale work is worse than no work; quarantine instead of running
		// a handler whose output nobody wants anymore.
		if dlErr := p.store.DeadLetterJob(ctx, j.ID, "delivery deadline exceeded"); dlErr != nil && !errors.Is(dlErr, durable.ErrJobTerminal) {
			p.logger.Error("quarantine of expired delivery failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlErr.Error()),
			)
			return dlErr
		}
		p.logger.Info("expired delivery quarantined",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return d.Ack()
	}

	claimed, err := p.store.ClaimJob(ctx, j.ID, p.workerID, p.staleThreshold)
	if err != nil {
		if errors.Is(err, durable.ErrJobTerminal) {
			// Duplicate delivery of settled work; absorb it.
			return d.Ack()
		}
		p.logger.Error("claim failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	if claimed == nil {
		// Another worker holds a live lease; its heartbeat or the stale
		// reaper will finish the story.
		return d.Ack()
	}

	outcome, execErr := p.executor.Execute(ctx, claimed)
	if execErr != nil {
		p.logger.Debug("job attempt settled",
			slog.String("job_id", claimed.ID.String()),
			slog.String("outcome", outcome.String()),
			slog.String("error", execErr.Error()),
		)
	}

	if outcome == OutcomeRetry {
		p.delay(ctx, claimed.Attempts)
		return d.Nack()
	}
	return d.Ack()
}

// resolveJob correlates the delivery to its durable record, creating the
// record on first delivery.
func (p *Pool) resolveJob(ctx context.Context, env *queue.Envelope) (*job.Job, error) {
	j, err := p.store.GetJobByMessageID(ctx, env.ID)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, durable.ErrJobNotFound) {
		return nil, err
	}

	opts := []job.Option{job.WithMessageID(env.ID)}
	if !env.RunID.IsNil() {
		opts = append(opts, job.WithRun(env.RunID))
	}
	if env.Metadata != nil {
		if env.Metadata.MaxRetries > 0 {
			opts = append(opts, job.WithMaxRetries(env.Metadata.MaxRetries))
		}
		if env.Metadata.Priority != 0 {
			opts = append(opts, job.WithPriority(env.Metadata.Priority))
		}
	}

	created := job.New(env.Type, env.TenantID, env.Payload, opts...)
	if err := p.store.CreateJob(ctx, created); err != nil {
		if errors.Is(err, durable.ErrJobAlreadyExists) {
			// Lost the creation race to a concurrent delivery.
			return p.store.GetJobByMessageID(ctx, env.ID)
		}
		return nil, err
	}
	return created, nil
}

// delay sleeps for the backoff delay of the given attempt, or until ctx
// is cancelled.
func (p *Pool) delay(ctx context.Context, attempt int) {
	p.sleep(ctx, p.backoff.Delay(attempt))
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// reapLoop republishes jobs whose lease went stale, so a live worker can
// reclaim them. Republishing is idempotent: a duplicate delivery of a
// live job is absorbed at claim time.
func (p *Pool) reapLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapStaleJobs(ctx)
		}
	}
}

func (p *Pool) reapStaleJobs(ctx context.Context) {
	stale, err := p.store.ListStaleJobs(ctx, p.staleThreshold, p.reapBatch)
	if err != nil {
		p.logger.Error("stale sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if j.MessageID.IsNil() {
			// No queue correlation; the job was injected directly and its
			// producer owns redelivery.
			continue
		}

		env := &queue.Envelope{
			ID:       j.MessageID,
			Type:     j.Type,
			TenantID: j.TenantID,
			RunID:    j.RunID,
			Payload:  j.Payload,
		}
		if err := p.queue.Publish(ctx, env); err != nil {
			p.logger.Error("republish stale job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.logger.Info("stale job republished",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempts", j.Attempts),
		)
	}
}

// cleanupLoop purges terminal jobs past the retention window in bounded
// batches.
func (p *Pool) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.CleanupOldJobs(ctx, p.retention, p.cleanupBatch)
			if err != nil {
				p.logger.Error("retention sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("old jobs purged", slog.Int64("count", n))
			}
		}
	}
}
