package throttle

import (
	"fmt"

	"golang.org/x/time/rate"
)

// TenantConfig defines rate limits and concurrency for a specific tenant
// on a specific topic.
type TenantConfig struct {
	// Topic is the queue topic this config applies to.
	Topic string

	// TenantID is the tenant identifier carried on jobs.
	TenantID string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// topic. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single topic+tenant pair.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// tenantKey builds the map key for a topic+tenant pair.
func tenantKey(topic, tenantID string) string {
	return fmt.Sprintf("%s:%s", topic, tenantID)
}

// SetTenantConfig configures rate limits and concurrency for a specific
// tenant on a specific topic. Calling this multiple times for the same
// topic+tenant replaces the previous configuration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.Topic, cfg.TenantID)
	existing := m.tenants[key]

	tn := &tenantState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		tn.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		tn.active = existing.active
	}
	m.tenants[key] = tn
}

// TenantActiveCount returns the current number of active jobs for a
// topic+tenant pair.
func (m *Manager) TenantActiveCount(topic, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tn := m.tenants[tenantKey(topic, tenantID)]; tn != nil {
		return tn.active
	}
	return 0
}
