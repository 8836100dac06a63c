package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/resilience"
)

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errors.New("connection reset by peer")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("svc", resilience.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Hour,
	})
	ctx := context.Background()

	calls := 0
	for range 3 {
		if err := b.Do(ctx, failingOp(&calls)); err == nil {
			t.Fatal("expected failure")
		}
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if b.State() != resilience.StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}

	// Subsequent calls fail fast without invoking the operation.
	err := b.Do(ctx, failingOp(&calls))
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (no invocation while open)", calls)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("svc", resilience.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Hour,
	})
	ctx := context.Background()

	calls := 0
	_ = b.Do(ctx, failingOp(&calls))
	_ = b.Do(ctx, failingOp(&calls))
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}

	if b.Failures() != 0 {
		t.Fatalf("Failures = %d, want 0 after success", b.Failures())
	}
	if b.State() != resilience.StateClosed {
		t.Fatalf("State = %s, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTrialCloses(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("svc", resilience.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	})
	ctx := context.Background()

	calls := 0
	_ = b.Do(ctx, failingOp(&calls)) // opens

	time.Sleep(20 * time.Millisecond) // cooldown elapses

	if b.State() != resilience.StateHalfOpen {
		t.Fatalf("State = %s, want half_open after cooldown", b.State())
	}

	// Trial succeeds, breaker closes.
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != resilience.StateClosed {
		t.Fatalf("State = %s, want closed after successful trial", b.State())
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("svc", resilience.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	})
	ctx := context.Background()

	calls := 0
	_ = b.Do(ctx, failingOp(&calls)) // opens

	time.Sleep(20 * time.Millisecond)

	// Trial fails, breaker reopens with a fresh cooldown.
	_ = b.Do(ctx, failingOp(&calls))
	if b.State() != resilience.StateOpen {
		t.Fatalf("State = %s, want open after failed trial", b.State())
	}

	// Fail fast again immediately after the failed trial.
	err := b.Do(ctx, failingOp(&calls))
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestBreakerSet_OnePerResource(t *testing.T) {
	t.Parallel()

	set := resilience.NewBreakerSet(resilience.DefaultBreakerConfig())
	a1 := set.Get("llm-provider:a")
	a2 := set.Get("llm-provider:a")
	b1 := set.Get("llm-provider:b")

	if a1 != a2 {
		t.Fatal("same resource returned different breakers")
	}
	if a1 == b1 {
		t.Fatal("different resources share a breaker")
	}
}

func TestResilientExecutor_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()

	exec := resilience.NewResilientExecutor(
		fastRetry(5),
		resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour},
	)
	ctx := context.Background()

	calls := 0
	// First execute: 2 attempts trip the breaker, further retries abort
	// on ErrOpen instead of burning the budget.
	err := exec.Execute(ctx, "scm-api", failingOp(&calls))
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen after breaker trips mid-retry", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (threshold)", calls)
	}

	// Second execute fails immediately without any invocation.
	err = exec.Execute(ctx, "scm-api", failingOp(&calls))
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (fail fast)", calls)
	}
}

func TestResilientExecutor_RetriesFlakyResource(t *testing.T) {
	t.Parallel()

	exec := resilience.NewResilientExecutor(
		fastRetry(5),
		resilience.BreakerConfig{FailureThreshold: 10, Cooldown: time.Hour},
	)

	calls := 0
	got, err := resilience.ExecuteValue(context.Background(), exec, "llm-provider:a",
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, fault.New(fault.CodeRateLimited, "throttled")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("ExecuteValue: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("got %d after %d calls, want 42 after 3", got, calls)
	}
}
