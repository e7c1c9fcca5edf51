package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/pedidoflow/internal/dispatch"
	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

const (
	defaultLeaseTTL = 30 * time.Second

	// terminateWait bounds how long Terminate waits for a running advance.
	terminateWait = 5 * time.Second

	tracerName = "github.com/petrijr/pedidoflow/internal/engine"
)

// engineImpl is the instance manager. Every write to an instance happens
// inside Advance or Terminate while holding both the in-process lock and
// the store lease for that instance.
type engineImpl struct {
	instances persistence.InstanceStore
	history   persistence.HistoryStore
	queue     taskqueue.Queue

	orchestrators *dispatch.Registry[api.OrchestratorFunc]
	dispatcher    *dispatch.Dispatcher

	observer api.Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	owner    string
	leaseTTL time.Duration
	now      func() time.Time

	locks *keyedLocks
}

// Config describes how to construct an engine.
type Config struct {
	Persistence persistence.Persistence

	// Queue, if set, receives advance and activity tasks for workers.
	// Without a queue the engine is synchronous and Run drives instances
	// inline.
	Queue taskqueue.Queue

	Observer       api.Observer
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider

	// LeaseTTL bounds how long a crashed owner blocks an instance.
	LeaseTTL time.Duration

	// Owner identifies this process in store leases. Defaults to a UUID.
	Owner string

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

var _ api.WorkerEngine = (*engineImpl)(nil)

// NewInMemoryEngine returns a synchronous engine over in-memory stores.
func NewInMemoryEngine() api.WorkerEngine {
	return NewEngineWithConfig(Config{Persistence: persistence.NewInMemoryPersistence()})
}

// NewSQLiteEngine returns an engine persisting to db. cfg.Persistence is
// replaced by the SQLite stores.
func NewSQLiteEngine(db *sql.DB, cfg Config) (api.WorkerEngine, error) {
	p, err := persistence.NewSQLitePersistence(db)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = p
	return NewEngineWithConfig(cfg), nil
}

// NewPostgresEngine returns an engine persisting to db.
func NewPostgresEngine(db *sql.DB, cfg Config) (api.WorkerEngine, error) {
	p, err := persistence.NewPostgresPersistence(db)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = p
	return NewEngineWithConfig(cfg), nil
}

// NewRedisEngine returns an engine persisting to Redis under prefix.
func NewRedisEngine(client redis.UniversalClient, prefix string, cfg Config) api.WorkerEngine {
	cfg.Persistence = persistence.NewRedisPersistence(client, prefix)
	return NewEngineWithConfig(cfg)
}

// NewMongoEngine returns an engine persisting to the dbName database.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, cfg Config) (api.WorkerEngine, error) {
	p, err := persistence.NewMongoPersistence(ctx, client, dbName)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = p
	return NewEngineWithConfig(cfg), nil
}

// NewEngineWithConfig creates a new engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.WorkerEngine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	owner := cfg.Owner
	if owner == "" {
		owner = uuid.NewString()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &engineImpl{
		instances:     cfg.Persistence.Instances,
		history:       cfg.Persistence.History,
		queue:         cfg.Queue,
		orchestrators: dispatch.NewRegistry[api.OrchestratorFunc]("orchestrator"),
		dispatcher: dispatch.New(dispatch.Config{
			Queue:    cfg.Queue,
			Observer: obs,
			Tracer:   tp.Tracer("github.com/petrijr/pedidoflow/internal/dispatch"),
			Logger:   logger,
		}),
		observer: obs,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
		owner:    owner,
		leaseTTL: ttl,
		now:      func() time.Time { return clock().UTC() },
		locks:    newKeyedLocks(),
	}
}

func (e *engineImpl) Start(ctx context.Context, name string, input any) (string, error) {
	id, err := e.create(ctx, name, input)
	if err != nil {
		return "", err
	}

	if e.queue != nil {
		if err := e.queue.Enqueue(ctx, taskqueue.NewAdvanceTask(id)); err != nil {
			return id, fmt.Errorf("enqueue first advance of %s: %w", id, err)
		}
		return id, nil
	}

	if _, err := e.Advance(ctx, id); err != nil && !errors.Is(err, api.ErrInstanceBusy) {
		return id, err
	}
	return id, nil
}

// create persists a PENDING instance and its ExecutionStarted event.
func (e *engineImpl) create(ctx context.Context, name string, input any) (string, error) {
	if _, ok := e.orchestrators.Get(name); !ok {
		return "", fmt.Errorf("%w: %s", api.ErrUnknownOrchestrator, name)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode input for %s: %w", name, err)
	}

	now := e.now()
	inst := &api.Instance{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    api.StatusPending,
		Input:     data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return "", fmt.Errorf("save instance: %w", err)
	}

	// A crash here leaves an instance without history; Advance re-appends
	// ExecutionStarted from the instance record.
	if err := e.append(ctx, api.ExecutionStarted(inst.ID, name, data)); err != nil {
		return "", err
	}
	return inst.ID, nil
}

func (e *engineImpl) Status(ctx context.Context, id string) (*api.InstanceStatus, error) {
	inst, err := e.getInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return inst.StatusView(), nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.InstanceStatus, error) {
	insts, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Name:   opts.Name,
		Status: opts.Status,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*api.InstanceStatus, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.StatusView())
	}
	return out, nil
}

func (e *engineImpl) History(ctx context.Context, id string) ([]api.HistoryEvent, error) {
	if _, err := e.getInstance(ctx, id); err != nil {
		return nil, err
	}
	return e.history.ListEvents(ctx, id)
}

func (e *engineImpl) ExecuteActivity(ctx context.Context, task api.ActivityTask) api.HistoryEvent {
	return e.dispatcher.Execute(ctx, task)
}

func (e *engineImpl) RecordTaskResult(ctx context.Context, ev api.HistoryEvent) error {
	if !ev.Type.IsTaskOutcome() {
		return fmt.Errorf("%w: %s is not an activity outcome", api.ErrCorruptHistory, ev.Type)
	}
	return e.append(ctx, ev)
}

func (e *engineImpl) Terminate(ctx context.Context, id string, reason string) error {
	release, err := e.acquire(ctx, id, terminateWait)
	if err != nil {
		return err
	}
	defer release()

	inst, err := e.getInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", api.ErrInstanceFinalized, id, inst.Status)
	}

	if err := e.append(ctx, api.ExecutionTerminated(id, reason)); err != nil {
		return err
	}
	if err := e.transition(inst, api.StatusTerminated); err != nil {
		return err
	}
	inst.Error = reason
	if err := e.save(ctx, inst); err != nil {
		return err
	}
	e.observer.OnInstanceTerminated(ctx, inst.StatusView(), reason)
	return nil
}

func (e *engineImpl) getInstance(ctx context.Context, id string) (*api.Instance, error) {
	inst, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

// append writes ev and notifies the observer once it is durable.
func (e *engineImpl) append(ctx context.Context, ev api.HistoryEvent) error {
	stored, err := e.history.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("append %s to %s: %w", ev.Type, ev.InstanceID, err)
	}
	e.observer.OnEventAppended(ctx, stored)
	return nil
}

func (e *engineImpl) transition(inst *api.Instance, next api.Status) error {
	if !inst.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s from %s to %s", api.ErrInvalidTransition, inst.ID, inst.Status, next)
	}
	inst.Status = next
	return nil
}

func (e *engineImpl) save(ctx context.Context, inst *api.Instance) error {
	inst.UpdatedAt = e.now()
	if err := e.instances.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	return nil
}
