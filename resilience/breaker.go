package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a circuit breaker rejects a call without
// invoking the operation. Retry treats it as an immediate abort so that
// callers fail fast while a dependency is known-down.
var ErrOpen = errors.New("resilience: circuit open")

// State is the circuit breaker state.
type State string

const (
	// StateClosed means calls pass through; failures are counted.
	StateClosed State = "closed"
	// StateOpen means calls fail fast without invoking the operation.
	StateOpen State = "open"
	// StateHalfOpen means one trial call is allowed through.
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a
	// trial call.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the preset used for external providers:
// open after 5 consecutive failures, 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// CircuitBreaker guards a single resource. In the closed state calls pass
// through and consecutive failures are counted; crossing the threshold
// opens the breaker, failing all calls fast until the cooldown elapses.
// After the cooldown one trial call is allowed: success closes the
// breaker, failure reopens it and restarts the cooldown.
//
// Safe for concurrent use.
type CircuitBreaker struct {
	resource string
	cfg      BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trialActive bool

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the given resource key
// (e.g. "llm-provider:primary").
func NewCircuitBreaker(resource string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		resource: resource,
		cfg:      cfg,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Resource returns the resource key this breaker guards.
func (b *CircuitBreaker) Resource() string { return b.resource }

// State returns the current state, accounting for cooldown expiry.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do invokes op through the breaker. When the breaker is open and the
// cooldown has not elapsed, Do returns ErrOpen (wrapped with the resource
// key) without invoking op. In the half-open state exactly one concurrent
// trial call is admitted; others receive ErrOpen.
func (b *CircuitBreaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning open→half_open
// when the cooldown has elapsed.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return fmt.Errorf("%w: %s", ErrOpen, b.resource)
		}
		b.state = StateHalfOpen
		b.trialActive = true
		return nil
	case StateHalfOpen:
		if b.trialActive {
			return fmt.Errorf("%w: %s (trial in flight)", ErrOpen, b.resource)
		}
		b.trialActive = true
		return nil
	}
	return nil
}

// record updates the state machine with the outcome of a call.
func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialActive = false
		if err != nil {
			// Trial failed: reopen and restart the cooldown.
			b.state = StateOpen
			b.lastFailure = b.now()
			return
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// Failures returns the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// ──────────────────────────────────────────────────
// Breaker registry
// ──────────────────────────────────────────────────

// BreakerSet lazily creates one CircuitBreaker per resource key.
// Safe for concurrent use.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates a registry applying cfg to every new breaker.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for resource, creating it on first use.
func (s *BreakerSet) Get(resource string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[resource]
	if !ok {
		b = NewCircuitBreaker(resource, s.cfg)
		s.breakers[resource] = b
	}
	return b
}
