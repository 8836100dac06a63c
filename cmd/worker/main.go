// Command worker runs a durable worker process: it connects the
// configured store and queue backends, wires the default middleware
// stack, and consumes jobs until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/intent-solutions-io/durable"
	"github.com/intent-solutions-io/durable/engine"
	"github.com/intent-solutions-io/durable/fault"
	"github.com/intent-solutions-io/durable/middleware"
	"github.com/intent-solutions-io/durable/queue"
	"github.com/intent-solutions-io/durable/store"
	"github.com/intent-solutions-io/durable/store/memory"
	mongostore "github.com/intent-solutions-io/durable/store/mongo"
	pgstore "github.com/intent-solutions-io/durable/store/postgres"
	redisstore "github.com/intent-solutions-io/durable/store/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", slog.String("error", err.Error()))
		os.Exit(fault.ExitCode(err))
	}
}

func run() error {
	_ = godotenv.Load()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	cfg, err := durable.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	q, err := buildQueue(cfg, logger)
	if err != nil {
		return err
	}

	core, err := engine.New(
		engine.WithStore(st),
		engine.WithQueue(q),
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMiddleware(
			middleware.Recover(logger),
			middleware.Logging(logger),
			middleware.Tenant(),
			middleware.Tracing(),
			middleware.Metrics(),
		),
	)
	if err != nil {
		return err
	}

	if err := core.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker ready", slog.String("worker_id", core.WorkerID().String()))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return core.Stop(shutdownCtx)
}

// buildStore connects the configured persistence backend, optionally
// overlaying redis for lock and idempotency traffic.
func buildStore(ctx context.Context, cfg durable.Config, logger *slog.Logger) (store.Store, error) {
	var base store.Store

	switch cfg.StoreBackend {
	case durable.StoreMemory:
		base = memory.New()

	case durable.StoreMongo:
		if cfg.MongoURI == "" {
			return nil, fault.New(fault.CodeConfiguration, "mongo store backend requires DURABLE_MONGO_URI")
		}
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		base = mongostore.New(client, cfg.MongoDatabase, mongostore.WithLogger(logger))

	case durable.StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fault.New(fault.CodeConfiguration, "postgres store backend requires DURABLE_POSTGRES_DSN")
		}
		pg, err := pgstore.New(ctx, cfg.PostgresDSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		base = pg

	default:
		return nil, fault.Newf(fault.CodeConfiguration, "unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		coord := redisstore.New(client, redisstore.WithLogger(logger))
		if err := coord.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis coordination overlay enabled", slog.String("addr", cfg.RedisAddr))
		base = store.WithCoordination(base, coord)
	}

	return base, nil
}

// buildQueue connects the configured queue transport.
func buildQueue(cfg durable.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case durable.QueueMemory:
		return queue.NewMemory(queue.WithConcurrency(cfg.Concurrency)), nil

	case durable.QueueAMQP:
		if cfg.BrokerURL == "" {
			return nil, errors.New("amqp queue backend requires DURABLE_BROKER_URL")
		}
		return queue.DialAMQP(queue.DefaultAMQPConfig(cfg.BrokerURL, cfg.Topic), logger)

	default:
		return nil, fault.Newf(fault.CodeConfiguration, "unknown queue backend %q", cfg.QueueBackend)
	}
}
