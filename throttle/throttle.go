// Package throttle provides worker-side admission control: token-bucket
// rate limits and concurrency caps per topic and per tenant.
//
// A multi-tenant platform needs noisy-neighbor protection on the consumer
// side: one tenant's burst of triggers must not monopolize a worker pool.
// [Manager] gates job admission at claim time.
//
//	m := throttle.NewManager(
//	    throttle.Config{Topic: "runs", MaxConcurrency: 20},
//	    throttle.Config{Topic: "bulk", RateLimit: 5, RateBurst: 10},
//	)
//	if m.Acquire(topic, tenantID) {
//	    defer m.Release(topic, tenantID)
//	    // process the job
//	}
//
// Topics without a [Config] have no limits beyond the pool-wide
// concurrency.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-topic admission limits.
type Config struct {
	// Topic is the queue topic this config applies to.
	Topic string

	// MaxConcurrency limits how many jobs from this topic may run
	// simultaneously across the local worker pool. Zero means no
	// topic-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// admitted from this topic. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// topicState tracks runtime state for a single topic.
type topicState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-topic and per-tenant admission limits.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	topics  map[string]*topicState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given topic configurations.
// Topics not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		topics:  make(map[string]*topicState, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.topics[cfg.Topic] = newTopicState(cfg)
	}
	return m
}

func newTopicState(cfg Config) *topicState {
	ts := &topicState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the given topic and
// tenant. If the job is admitted it increments the active counters and
// returns true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(topic, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.topics[topic]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
			return false
		}
	}

	if tenantID != "" {
		tn := m.tenants[tenantKey(topic, tenantID)]
		if tn != nil {
			if tn.limiter != nil && !tn.limiter.Allow() {
				return false
			}
			if tn.maxConcurrency > 0 && tn.active >= tn.maxConcurrency {
				return false
			}
			tn.active++
		}
	}

	if ts != nil {
		ts.active++
	}

	return true
}

// Release decrements the active job count for the topic and tenant.
func (m *Manager) Release(topic, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.topics[topic]; ts != nil && ts.active > 0 {
		ts.active--
	}

	if tenantID != "" {
		if tn := m.tenants[tenantKey(topic, tenantID)]; tn != nil && tn.active > 0 {
			tn.active--
		}
	}
}

// SetConfig dynamically updates (or creates) a topic configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.topics[cfg.Topic]
	ts := newTopicState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.topics[cfg.Topic] = ts
}

// ActiveCount returns the current number of active jobs for a topic.
func (m *Manager) ActiveCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.topics[topic]; ts != nil {
		return ts.active
	}
	return 0
}
