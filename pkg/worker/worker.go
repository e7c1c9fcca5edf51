package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

const defaultBusyRetryDelay = 50 * time.Millisecond

// Config tunes a Worker. Zero values select defaults.
type Config struct {
	// BusyRetryDelay is how long an advance waits in the queue after the
	// instance was found busy.
	BusyRetryDelay time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.WorkerEngine
	queue  taskqueue.Queue

	busyRetryDelay time.Duration
	logger         *slog.Logger
}

// New creates a new Worker with default settings.
func New(engine api.WorkerEngine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a new Worker.
func NewWithConfig(engine api.WorkerEngine, queue taskqueue.Queue, cfg Config) *Worker {
	w := &Worker{
		engine:         engine,
		queue:          queue,
		busyRetryDelay: cfg.BusyRetryDelay,
		logger:         cfg.Logger,
	}
	if w.busyRetryDelay <= 0 {
		w.busyRetryDelay = defaultBusyRetryDelay
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// EnqueueAdvance asks a worker to run a replay pass for instanceID.
func (w *Worker) EnqueueAdvance(ctx context.Context, instanceID string) error {
	return w.queue.Enqueue(ctx, taskqueue.NewAdvanceTask(instanceID))
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or the queue failed)
//   - processed == true: a task was processed; err reports whether handling it failed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeActivity:
		return true, w.runActivity(ctx, task)
	case taskqueue.TaskTypeAdvance:
		return true, w.advance(ctx, task)
	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

func (w *Worker) runActivity(ctx context.Context, task *taskqueue.Task) error {
	outcome := w.engine.ExecuteActivity(ctx, api.ActivityTask{
		InstanceID: task.InstanceID,
		TaskID:     task.TaskID,
		Name:       task.ActivityName,
		Input:      task.Input,
	})

	err := w.engine.RecordTaskResult(ctx, outcome)
	switch {
	case errors.Is(err, api.ErrDuplicateCompletion), errors.Is(err, api.ErrInstanceFinalized):
		w.logger.Debug("dropping late activity outcome",
			"instance_id", task.InstanceID,
			"task_id", task.TaskID,
			"reason", err,
		)
		return nil
	case err != nil:
		return fmt.Errorf("record outcome of task %d of %s: %w", task.TaskID, task.InstanceID, err)
	}

	return w.advance(ctx, task)
}

// advance runs a replay pass. A busy instance is handed back to the queue.
func (w *Worker) advance(ctx context.Context, task *taskqueue.Task) error {
	_, err := w.engine.Advance(ctx, task.InstanceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrInstanceFinalized):
		return nil
	case errors.Is(err, api.ErrInstanceBusy):
		retry := taskqueue.NewAdvanceTask(task.InstanceID)
		retry.NotBefore = time.Now().Add(w.busyRetryDelay)
		retry.Attempts = task.Attempts + 1
		w.logger.Debug("instance busy, re-enqueueing advance",
			"instance_id", task.InstanceID,
			"attempts", retry.Attempts,
		)
		return w.queue.Enqueue(ctx, retry)
	default:
		return err
	}
}

// Run processes tasks with concurrency goroutines until ctx is cancelled.
// Task errors are logged and do not stop the pool.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for {
				processed, err := w.ProcessOne(ctx)
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					continue
				}
				if processed {
					w.logger.Error("task failed", "worker", slot, "error", err)
					continue
				}
				w.logger.Error("dequeue failed", "worker", slot, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.busyRetryDelay):
				}
			}
		}(i)
	}
	wg.Wait()
	return nil
}
