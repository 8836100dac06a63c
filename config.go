package durable

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// QueueBackend selects the queue transport.
type QueueBackend string

const (
	// QueueMemory is the in-process reference queue.
	QueueMemory QueueBackend = "memory"
	// QueueAMQP is the broker-backed queue (RabbitMQ).
	QueueAMQP QueueBackend = "amqp"
)

// StoreBackend selects the persistence backend.
type StoreBackend string

const (
	// StoreMemory is the in-process reference store.
	StoreMemory StoreBackend = "memory"
	// StoreMongo is the document-store backend.
	StoreMongo StoreBackend = "mongo"
	// StorePostgres is the SQL backend.
	StorePostgres StoreBackend = "postgres"
)

// Config holds configuration for the Core.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently
	// by one worker process.
	Concurrency int `env:"DURABLE_CONCURRENCY" envDefault:"10"`

	// QueueBackend selects the queue transport (memory or amqp).
	QueueBackend QueueBackend `env:"DURABLE_QUEUE_BACKEND" envDefault:"memory"`

	// StoreBackend selects the persistence backend.
	StoreBackend StoreBackend `env:"DURABLE_STORE_BACKEND" envDefault:"memory"`

	// Topic is the queue topic/exchange jobs are published to.
	Topic string `env:"DURABLE_TOPIC" envDefault:"durable.jobs"`

	// BrokerURL is the AMQP connection string when QueueBackend is amqp.
	BrokerURL string `env:"DURABLE_BROKER_URL"`

	// MongoURI / MongoDatabase configure the mongo backend.
	MongoURI      string `env:"DURABLE_MONGO_URI"`
	MongoDatabase string `env:"DURABLE_MONGO_DATABASE" envDefault:"durable"`

	// PostgresDSN configures the postgres backend.
	PostgresDSN string `env:"DURABLE_POSTGRES_DSN"`

	// RedisAddr configures the optional redis lock/idempotency backend.
	RedisAddr string `env:"DURABLE_REDIS_ADDR"`

	// HeartbeatInterval is how often claimed jobs send heartbeats. It must
	// be substantially shorter than StaleThreshold.
	HeartbeatInterval time.Duration `env:"DURABLE_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// StaleThreshold is how long a claimed or running job may go without a
	// heartbeat before any worker may reclaim it.
	StaleThreshold time.Duration `env:"DURABLE_STALE_THRESHOLD" envDefault:"120s"`

	// ReaperInterval is how often the stale-job reaper sweeps. Zero
	// disables the reaper on this worker.
	ReaperInterval time.Duration `env:"DURABLE_REAPER_INTERVAL" envDefault:"60s"`

	// LockTTL is the default distributed run-lock lease duration.
	LockTTL time.Duration `env:"DURABLE_LOCK_TTL" envDefault:"5m"`

	// MaxArtifactBytes caps a single checkpoint artifact entry. Larger
	// entries are replaced with truncation markers.
	MaxArtifactBytes int `env:"DURABLE_MAX_ARTIFACT_BYTES" envDefault:"102400"`

	// MaxCheckpointBytes caps the whole serialized checkpoint document.
	MaxCheckpointBytes int `env:"DURABLE_MAX_CHECKPOINT_BYTES" envDefault:"1048576"`

	// RetentionWindow is how long terminal jobs are kept before cleanup.
	RetentionWindow time.Duration `env:"DURABLE_RETENTION_WINDOW" envDefault:"720h"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"DURABLE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		QueueBackend:       QueueMemory,
		StoreBackend:       StoreMemory,
		Topic:              "durable.jobs",
		MongoDatabase:      "durable",
		HeartbeatInterval:  30 * time.Second,
		StaleThreshold:     120 * time.Second,
		ReaperInterval:     60 * time.Second,
		LockTTL:            5 * time.Minute,
		MaxArtifactBytes:   100 * 1024,
		MaxCheckpointBytes: 1024 * 1024,
		RetentionWindow:    30 * 24 * time.Hour,
		ShutdownTimeout:    30 * time.Second,
	}
}

// FromEnv loads configuration from DURABLE_* environment variables,
// falling back to the defaults above.
func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("durable: parse env config: %w", err)
	}
	return c, nil
}

// Validate checks invariants between related settings.
func (c Config) Validate() error {
	if c.HeartbeatInterval >= c.StaleThreshold {
		return fmt.Errorf("durable: heartbeat interval %v must be shorter than stale threshold %v",
			c.HeartbeatInterval, c.StaleThreshold)
	}
	if c.QueueBackend == QueueAMQP && c.BrokerURL == "" {
		return fmt.Errorf("durable: amqp queue backend requires DURABLE_BROKER_URL")
	}
	return nil
}
