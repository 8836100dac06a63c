package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/lock"
)

// Compile-time interface checks.
var (
	_ lock.Store = (*Store)(nil)
	_ idem.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRecordTTL bounds how long completed idempotency records are kept.
// Zero (the default) keeps them until explicitly deleted.
func WithRecordTTL(d time.Duration) Option {
	return func(s *Store) { s.recordTTL = d }
}

// Store implements the run-lock and idempotency store interfaces backed
// by Redis. It deliberately does not implement the job or run stores:
// lease and dedup state is ephemeral coordination data, job history is
// not.
type Store struct {
	client    redis.Cmdable
	logger    *slog.Logger
	recordTTL time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
