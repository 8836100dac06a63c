// Package resilience wraps calls to unreliable downstream systems with
// bounded retry and per-resource circuit breaking. Retry decisions come
// from the fault taxonomy; no heuristics are re-implemented here.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/intent-solutions-io/durable/backoff"
	"github.com/intent-solutions-io/durable/fault"
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// InitialDelay seeds the backoff between attempts.
	InitialDelay time.Duration

	// Multiplier grows the delay geometrically. Zero defaults to 2.
	Multiplier float64

	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration

	// Jitter applies full jitter to each delay.
	Jitter bool
}

// DefaultRetryConfig returns the preset used for flaky remote calls:
// 3 attempts, 1s initial delay doubling to 30s, with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// LockRetryConfig returns the preset for lock-conflict retries:
// 5 attempts with a constant 1s delay.
func LockRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   1,
		MaxDelay:     1 * time.Second,
	}
}

// strategy builds the backoff.Strategy for this config.
func (c RetryConfig) strategy() backoff.Strategy {
	if c.Jitter {
		return backoff.NewExponentialWithJitter(c.InitialDelay, c.Multiplier, c.MaxDelay)
	}
	return backoff.NewExponential(c.InitialDelay, c.Multiplier, c.MaxDelay)
}

// Retry invokes op up to cfg.MaxAttempts times, backing off between
// attempts. It aborts immediately, with no further attempts, when:
//
//   - the error is classified non-retryable by the fault taxonomy,
//   - the error is ErrOpen (the resource's circuit is open),
//   - the context is cancelled, or
//   - a fault.Error carries a MaxRetries override lower than the budget.
//
// A fault.Error's RetryAfter hint, when present, extends the computed
// backoff delay to at least the hinted value.
func Retry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	strat := cfg.strategy()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, ErrOpen) {
			return lastErr
		}
		if !fault.IsRetryable(lastErr) {
			return lastErr
		}
		if fe := fault.As(lastErr); fe != nil && fe.MaxRetries > 0 && attempt >= fe.MaxRetries {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := strat.Delay(attempt)
		if hint := fault.RetryAfterOf(lastErr); hint > delay {
			delay = hint
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
