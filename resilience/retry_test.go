package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/resilience"
)

// fastRetry returns a config with negligible delays for tests.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := resilience.Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.New(fault.CodeTimeout, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	wantErr := fault.New(fault.CodeNetwork, "down")
	err := resilience.Retry(context.Background(), fastRetry(4), func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestRetry_AbortsOnNonRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"validation", fault.New(fault.CodeValidation, "bad input")},
		{"policy denied", fault.New(fault.CodePolicyDenied, "nope")},
		{"untyped not found", errors.New("resource not found")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := resilience.Retry(context.Background(), fastRetry(5), func(context.Context) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Fatalf("calls = %d, want 1 (no retries)", calls)
			}
		})
	}
}

func TestRetry_HonorsMaxRetriesOverride(t *testing.T) {
	t.Parallel()

	calls := 0
	override := &fault.Error{
		Code:       fault.CodeRateLimited,
		Message:    "throttled hard",
		Retryable:  true,
		MaxRetries: 2,
	}
	err := resilience.Retry(context.Background(), fastRetry(10), func(context.Context) error {
		calls++
		return override
	})
	if !errors.Is(err, override) {
		t.Fatalf("got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (error-level override)", calls)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour, // never elapses; cancellation must win
		Multiplier:   1,
	}

	done := make(chan error, 1)
	go func() {
		done <- resilience.Retry(ctx, cfg, func(context.Context) error {
			return fault.New(fault.CodeTimeout, "flaky")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retry did not observe cancellation")
	}
}

func TestRetryValue(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := resilience.RetryValue(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", fault.New(fault.CodeServiceUnavailable, "warming up")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryValue: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q, want %q", got, "ok")
	}
}
