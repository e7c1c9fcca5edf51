package pedidoflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/worker"
)

const waitPollInterval = 10 * time.Millisecond

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker pool for development and debugging.
//
// Typical usage:
//
//	runner := pedidoflow.NewLocalRunner()
//	_ = pedidoflow.RegisterPedidoWorkflow(runner.Engine)
//	_ = runner.StartWorkers(ctx, 2)
//	id, _ := runner.Engine.Start(ctx, pedidoflow.PedidoOrchestrator, req)
//	st, _ := runner.Wait(ctx, id, pedidoflow.Settled)
//	runner.Stop()
type LocalRunner struct {
	// Engine is the queued in-memory engine used by this runner.
	Engine WorkerEngine

	// Worker processes tasks from the runner's queue using Engine.
	Worker *worker.Worker

	queue taskqueue.Queue

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner with an in-memory queue of 1024
// tasks and a Worker with default config.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(EngineConfig{}, worker.Config{})
}

// NewLocalRunnerWithConfig is NewLocalRunner with explicit engine and worker
// settings. cfg.Persistence and cfg.Queue are replaced.
func NewLocalRunnerWithConfig(cfg EngineConfig, wcfg worker.Config) *LocalRunner {
	q := taskqueue.NewInMemoryQueue(1024)
	cfg.Persistence = persistence.NewInMemoryPersistence()
	cfg.Queue = q
	eng := engine.NewEngineWithConfig(cfg)

	return &LocalRunner{
		Engine: eng,
		Worker: worker.NewWithConfig(eng, q, wcfg),
		queue:  q,
	}
}

// StartWorkers starts concurrency worker goroutines that process tasks until
// Stop is called or ctx is cancelled.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("pedidoflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Worker.Run(ctx, concurrency)
	}()
	return nil
}

// Stop cancels the worker goroutines started by StartWorkers and waits for
// them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Pending returns the approximate number of queued tasks.
func (r *LocalRunner) Pending() int {
	return r.queue.Len()
}

// Wait polls the status of id until done reports true or ctx ends.
func (r *LocalRunner) Wait(ctx context.Context, id string, done func(*InstanceStatus) bool) (*InstanceStatus, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		st, err := r.Engine.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if done(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Settled reports whether an instance is terminal or has stopped with
// output.
func Settled(st *InstanceStatus) bool {
	return st.Status.IsTerminal() || (st.Status == StatusRunning && len(st.Output) > 0)
}
