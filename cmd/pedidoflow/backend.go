package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/pedidoflow/internal/config"
	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

const mongoQueueCollection = "queue_tasks"

// backend is an engine with the stores and queue it was built on.
type backend struct {
	Engine api.WorkerEngine

	// Queue is nil when the engine advances instances inline.
	Queue taskqueue.Queue

	closers []func() error
}

// Close releases the storage connections.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend connects the configured storage and queue and builds the
// engine on them. ecfg.Persistence and ecfg.Queue are replaced.
func openBackend(ctx context.Context, cfg config.Config, ecfg engine.Config) (*backend, error) {
	b := &backend{}

	p, storageQueue, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if p.Close != nil {
		b.closers = append(b.closers, p.Close)
	}

	switch cfg.Queue.Driver {
	case "none":
	case "memory":
		q := taskqueue.NewInMemoryQueue(cfg.Queue.Capacity)
		b.Queue = q
		b.closers = append(b.closers, q.Close)
	case "storage":
		if storageQueue == nil {
			_ = b.Close()
			return nil, fmt.Errorf("storage driver %q has no task queue", cfg.Storage.Driver)
		}
		b.Queue = storageQueue
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}

	ecfg.Persistence = p
	ecfg.Queue = b.Queue
	b.Engine = engine.NewEngineWithConfig(ecfg)
	return b, nil
}

// openStorage returns the stores for cfg and, for durable drivers, a queue
// sharing their connection.
func openStorage(ctx context.Context, cfg config.StorageConfig) (persistence.Persistence, taskqueue.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return persistence.NewInMemoryPersistence(), nil, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return persistence.Persistence{}, nil, fmt.Errorf("open sqlite: %w", err)
		}
		p, err := persistence.NewSQLitePersistence(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, err
		}
		q, err := taskqueue.NewSQLiteQueue(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, err
		}
		return p, q, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return persistence.Persistence{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, fmt.Errorf("ping postgres: %w", err)
		}
		p, err := persistence.NewPostgresPersistence(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, err
		}
		q, err := taskqueue.NewPostgresQueue(db)
		if err != nil {
			_ = db.Close()
			return persistence.Persistence{}, nil, err
		}
		return p, q, nil

	case "redis":
		client, err := newRedisClient(cfg.DSN)
		if err != nil {
			return persistence.Persistence{}, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return persistence.Persistence{}, nil, fmt.Errorf("ping redis: %w", err)
		}
		return persistence.NewRedisPersistence(client, cfg.RedisPrefix), taskqueue.NewRedisQueue(client, cfg.RedisPrefix), nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return persistence.Persistence{}, nil, fmt.Errorf("connect mongo: %w", err)
		}
		p, err := persistence.NewMongoPersistence(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return persistence.Persistence{}, nil, err
		}
		return p, taskqueue.NewMongoQueue(client, cfg.MongoDatabase, mongoQueueCollection), nil

	default:
		return persistence.Persistence{}, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// newRedisClient accepts either a redis:// URL or a bare host:port.
func newRedisClient(dsn string) (*redis.Client, error) {
	if strings.Contains(dsn, "://") {
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: dsn}), nil
}
