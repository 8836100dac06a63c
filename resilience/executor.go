package resilience

import "context"

// ResilientExecutor composes retry-with-backoff and per-resource circuit
// breaking into one call. Callers get both behaviours: fast failure when
// a dependency is known-down (the breaker short-circuits the retry loop
// via ErrOpen) and bounded retry when it is merely flaky.
type ResilientExecutor struct {
	breakers *BreakerSet
	retry    RetryConfig
}

// NewResilientExecutor creates an executor with the given presets.
func NewResilientExecutor(retry RetryConfig, breaker BreakerConfig) *ResilientExecutor {
	return &ResilientExecutor{
		breakers: NewBreakerSet(breaker),
		retry:    retry,
	}
}

// Execute runs op against the named resource: each attempt passes through
// the resource's circuit breaker, and failures are retried per the retry
// preset unless classified non-retryable.
func (e *ResilientExecutor) Execute(ctx context.Context, resource string, op func(context.Context) error) error {
	breaker := e.breakers.Get(resource)
	return Retry(ctx, e.retry, func(ctx context.Context) error {
		return breaker.Do(ctx, op)
	})
}

// ExecuteValue is Execute for operations that produce a value.
func ExecuteValue[T any](ctx context.Context, e *ResilientExecutor, resource string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, resource, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// Breaker exposes the breaker for a resource, primarily for inspection.
func (e *ResilientExecutor) Breaker(resource string) *CircuitBreaker {
	return e.breakers.Get(resource)
}
