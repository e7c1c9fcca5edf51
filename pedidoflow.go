package pedidoflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkerEngine         = api.WorkerEngine
	EngineConfig         = engine.Config
	InstanceStatus       = api.InstanceStatus
	InstanceListOptions  = api.InstanceListOptions
	Status               = api.Status
	HistoryEvent         = api.HistoryEvent
	EventType            = api.EventType
	Intent               = api.Intent
	OrchestratorFunc     = api.OrchestratorFunc
	OrchestrationContext = api.OrchestrationContext
	ActivityFunc         = api.ActivityFunc
	ActivityTask         = api.ActivityTask
	ActivityInfo         = api.ActivityInfo
	ActivityError        = api.ActivityError
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer and orchestration helpers.

var (
	NewLoggingObserver      = api.NewLoggingObserver
	NewCompositeObserver    = api.NewCompositeObserver
	CallActivityWithRetry   = api.CallActivityWithRetry
	ActivityInfoFromContext = api.ActivityInfoFromContext
	IsSuspended             = api.IsSuspended
)

// Re-export status values for convenience.

const (
	StatusPending    = api.StatusPending
	StatusRunning    = api.StatusRunning
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
	StatusTerminated = api.StatusTerminated
)

// Re-export the errors callers match with errors.Is.

var (
	ErrInstanceNotFound    = api.ErrInstanceNotFound
	ErrInstanceBusy        = api.ErrInstanceBusy
	ErrInstanceFinalized   = api.ErrInstanceFinalized
	ErrDuplicateCompletion = api.ErrDuplicateCompletion
	ErrNondeterminism      = api.ErrNondeterminism
	ErrUnknownOrchestrator = api.ErrUnknownOrchestrator
	ErrUnknownActivity     = api.ErrUnknownActivity
	ErrStopped             = api.ErrStopped
	ErrQueuedEngine        = engine.ErrQueuedEngine
)

// TypedActivity adapts a typed function into an ActivityFunc.
func TypedActivity[In any, Out any](fn func(ctx context.Context, in *In) (Out, error)) ActivityFunc {
	return api.TypedActivity(fn)
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns a synchronous Engine backed entirely by
// in-memory stores.
func NewInMemoryEngine() WorkerEngine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) WorkerEngine {
	return engine.NewEngineWithConfig(EngineConfig{
		Persistence: persistence.NewInMemoryPersistence(),
		Observer:    obs,
	})
}

// NewSQLiteEngine returns an Engine that persists instances and histories
// in a SQLite database.
func NewSQLiteEngine(db *sql.DB, cfg EngineConfig) (WorkerEngine, error) {
	return engine.NewSQLiteEngine(db, cfg)
}

// NewPostgresEngine returns an Engine that persists instances in PostgreSQL.
func NewPostgresEngine(db *sql.DB, cfg EngineConfig) (WorkerEngine, error) {
	return engine.NewPostgresEngine(db, cfg)
}

// NewRedisEngine returns an Engine that persists instances in Redis under
// prefix.
func NewRedisEngine(client redis.UniversalClient, prefix string, cfg EngineConfig) WorkerEngine {
	return engine.NewRedisEngine(client, prefix, cfg)
}

// NewMongoEngine returns an Engine that persists instances in the dbName
// MongoDB database.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, cfg EngineConfig) (WorkerEngine, error) {
	return engine.NewMongoEngine(ctx, client, dbName, cfg)
}

// Convenience helpers that just forward to the underlying Engine.

// Run starts an instance and drives it synchronously. eng must not have a
// task queue.
func Run(ctx context.Context, eng Engine, name string, input any) (*InstanceStatus, error) {
	return eng.Run(ctx, name, input)
}

// GetStatus fetches the status projection of an instance.
func GetStatus(ctx context.Context, eng Engine, id string) (*InstanceStatus, error) {
	return eng.Status(ctx, id)
}

// ListInstances lists instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*InstanceStatus, error) {
	return eng.ListInstances(ctx, opts)
}

// GetHistory returns the recorded events of an instance.
func GetHistory(ctx context.Context, eng Engine, id string) ([]HistoryEvent, error) {
	return eng.History(ctx, id)
}

// Terminate finalizes a running instance.
func Terminate(ctx context.Context, eng Engine, id string, reason string) error {
	return eng.Terminate(ctx, id, reason)
}

// RecoverInFlight delegates to eng.RecoverInFlight.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := pedidoflow.RecoverInFlight(ctx, engine, 0)
func RecoverInFlight(ctx context.Context, eng Engine, staleAfter time.Duration) (int, error) {
	return eng.RecoverInFlight(ctx, staleAfter)
}
