// Package dispatch resolves activity names to handlers, hands scheduled
// activities to the task queue and executes them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/pedidoflow/internal/logging"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// tracerName is the instrumentation scope name for activity spans.
const tracerName = "github.com/petrijr/pedidoflow/internal/dispatch"

// Config describes a Dispatcher.
type Config struct {
	Activities *Registry[api.ActivityFunc]

	// Queue receives scheduled activities. A nil Queue makes Dispatch a
	// no-op; the caller then executes activities itself.
	Queue taskqueue.Queue

	Observer api.Observer
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Dispatcher delivers scheduled activities and runs them.
type Dispatcher struct {
	activities *Registry[api.ActivityFunc]
	queue      taskqueue.Queue
	observer   api.Observer
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New builds a Dispatcher, defaulting every unset field.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		activities: cfg.Activities,
		queue:      cfg.Queue,
		observer:   cfg.Observer,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}
	if d.activities == nil {
		d.activities = NewRegistry[api.ActivityFunc]("activity")
	}
	if d.observer == nil {
		d.observer = api.NoopObserver{}
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Activities returns the registry Execute resolves names against.
func (d *Dispatcher) Activities() *Registry[api.ActivityFunc] { return d.activities }

// Queued reports whether Dispatch hands work to a task queue.
func (d *Dispatcher) Queued() bool { return d.queue != nil }

// Dispatch enqueues the activity named by a schedule-activity intent.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID string, intent api.Intent) error {
	if d.queue == nil {
		return nil
	}
	if intent.Kind != api.IntentScheduleActivity {
		return fmt.Errorf("dispatch: cannot dispatch %s intent", intent.Kind)
	}
	task := taskqueue.NewActivityTask(instanceID, intent.TaskID, intent.Name, intent.Input)
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue activity %s (task %d) of %s: %w", intent.Name, intent.TaskID, instanceID, err)
	}
	return nil
}

// Execute runs the activity for task and returns the outcome event to
// record. It never returns an error: handler errors, panics and unknown
// names all become TaskFailed.
func (d *Dispatcher) Execute(ctx context.Context, task api.ActivityTask) api.HistoryEvent {
	ctx, span := d.tracer.Start(ctx, "pedidoflow.activity.execute",
		trace.WithAttributes(
			attribute.String("pedidoflow.instance_id", task.InstanceID),
			attribute.Int("pedidoflow.task_id", task.TaskID),
			attribute.String("pedidoflow.activity", task.Name),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	logger := d.logger.With(
		slog.String("instance_id", task.InstanceID),
		slog.Int("task_id", task.TaskID),
		slog.String("activity", task.Name),
	)
	ctx = logging.WithLogger(ctx, logger)
	ctx = api.WithActivityInfo(ctx, api.ActivityInfo{
		InstanceID: task.InstanceID,
		TaskID:     task.TaskID,
		Name:       task.Name,
	})

	start := time.Now()
	result, err := d.call(ctx, logger, task)
	elapsed := time.Since(start)

	var ev api.HistoryEvent
	if err == nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			err = fmt.Errorf("encode result of activity %s: %w", task.Name, mErr)
		} else {
			ev = api.TaskCompleted(task.InstanceID, task.TaskID, data)
		}
	}
	if err != nil {
		ev = api.TaskFailed(task.InstanceID, task.TaskID, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	d.observer.OnActivityCompleted(ctx, task, err, elapsed)
	return ev
}

func (d *Dispatcher) call(ctx context.Context, logger *slog.Logger, task api.ActivityTask) (result any, err error) {
	fn, ok := d.activities.Get(task.Name)
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownActivity, task.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("activity panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("panic in activity %s: %v", task.Name, r)
		}
	}()

	result, err = fn(ctx, task.Input)
	if err != nil && errors.Is(err, context.Canceled) {
		logger.Warn("activity cancelled", slog.String("error", err.Error()))
	}
	return result, err
}
