package pedidoflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	workerpkg "github.com/petrijr/pedidoflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue. Engine and queue share one backend.
type WorkerBundle struct {
	Engine WorkerEngine
	Worker *workerpkg.Worker

	queue taskqueue.Queue
}

// BundleConfig configures the engine and worker of a bundle.
// Engine.Persistence and Engine.Queue are always replaced.
type BundleConfig struct {
	Engine EngineConfig
	Worker workerpkg.Config
}

// Pending returns the approximate number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}

func newBundle(eng WorkerEngine, q taskqueue.Queue, cfg BundleConfig) *WorkerBundle {
	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, cfg.Worker),
		queue:  q,
	}
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:pedidoflow.db?_journal=WAL")
//	bundle, err := pedidoflow.NewSQLiteBundle(db, pedidoflow.BundleConfig{})
//	// register workflows on bundle.Engine
//	// run bundle.Worker.Run(ctx, n)
func NewSQLiteBundle(db *sql.DB, cfg BundleConfig) (*WorkerBundle, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	cfg.Engine.Queue = q
	eng, err := engine.NewSQLiteEngine(db, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, q, cfg), nil
}

// NewPostgresBundle is NewSQLiteBundle for PostgreSQL.
func NewPostgresBundle(db *sql.DB, cfg BundleConfig) (*WorkerBundle, error) {
	q, err := taskqueue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}
	cfg.Engine.Queue = q
	eng, err := engine.NewPostgresEngine(db, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, q, cfg), nil
}

// NewRedisBundle keeps stores and queue under prefix in Redis.
func NewRedisBundle(client redis.UniversalClient, prefix string, cfg BundleConfig) *WorkerBundle {
	q := taskqueue.NewRedisQueue(client, prefix)
	cfg.Engine.Queue = q
	eng := engine.NewRedisEngine(client, prefix, cfg.Engine)
	return newBundle(eng, q, cfg)
}

// NewMongoBundle keeps stores and queue in the dbName database.
func NewMongoBundle(ctx context.Context, client *mongo.Client, dbName string, cfg BundleConfig) (*WorkerBundle, error) {
	q := taskqueue.NewMongoQueue(client, dbName, "queue_tasks")
	cfg.Engine.Queue = q
	eng, err := engine.NewMongoEngine(ctx, client, dbName, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, q, cfg), nil
}
