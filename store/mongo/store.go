package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/intent-solutions-io/durable/idem"
	"github.com/intent-solutions-io/durable/job"
	"github.com/intent-solutions-io/durable/lock"
	"github.com/intent-solutions-io/durable/run"
)

// Collection name constants.
const (
	colJobs        = "durable_jobs"
	colRuns        = "durable_runs"
	colCheckpoints = "durable_checkpoints"
	colLocks       = "durable_locks"
	colRecords     = "durable_idempotency"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store  = (*Store)(nil)
	_ run.Store  = (*Store)(nil)
	_ lock.Store = (*Store)(nil)
	_ idem.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. Every state transition
// is a conditional FindOneAndUpdate/UpdateOne whose filter encodes the
// precondition, so concurrent workers race on the database, not in memory.
//
// The caller owns the *mongo.Client lifecycle; Store never closes it.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given client and database name.
// The caller owns the client lifecycle -- the Store will not disconnect it
// on Close().
func New(client *mongod.Client, database string, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates indexes for all durable collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("durable/mongo: migrate %s indexes: %w", col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close is a no-op because the caller owns the *mongo.Client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for all durable collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Pending-scan index: tenant + status + priority + created_at.
			{Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "created_at", Value: 1},
			}},
			// Stale-sweep index: status + last heartbeat.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "last_heartbeat", Value: 1},
			}},
			// Delivery correlation. Unique so concurrent first deliveries
			// of one message collapse to a single job record; sparse
			// because directly-injected jobs carry no message ID.
			{
				Keys:    bson.D{{Key: "message_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			// Run membership.
			{Keys: bson.D{{Key: "run_id", Value: 1}}},
		},
		colRuns: {
			{Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "status", Value: 1},
			}},
		},
		colRecords: {
			// Uniqueness is the whole point: one record per (scope, key).
			{
				Keys: bson.D{
					{Key: "scope", Value: 1},
					{Key: "source", Value: 1},
					{Key: "external_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		colLocks: {
			// Expired leases are garbage; let the server collect them.
			// Reclaim logic treats a missing record like an expired one.
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}
}
