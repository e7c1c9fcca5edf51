package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/pedidoflow/internal/replay"
	"github.com/petrijr/pedidoflow/pkg/api"
)

func (e *engineImpl) Advance(ctx context.Context, id string) (intent api.Intent, err error) {
	ctx, span := e.tracer.Start(ctx, "pedidoflow.advance",
		trace.WithAttributes(attribute.String("pedidoflow.instance_id", id)),
	)
	defer func() {
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("pedidoflow.intent", string(intent.Kind)))
			span.SetStatus(codes.Ok, "")
		case isBusy(err), errors.Is(err, api.ErrInstanceFinalized):
			span.SetAttributes(attribute.String("pedidoflow.skipped", err.Error()))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	release, err := e.acquire(ctx, id, 0)
	if err != nil {
		return api.Intent{}, err
	}
	defer release()

	inst, err := e.getInstance(ctx, id)
	if err != nil {
		return api.Intent{}, err
	}
	if inst.Status.IsTerminal() {
		return api.Intent{}, fmt.Errorf("%w: %s is %s", api.ErrInstanceFinalized, id, inst.Status)
	}

	history, err := e.history.ListEvents(ctx, id)
	if err != nil {
		return api.Intent{}, fmt.Errorf("load history of %s: %w", id, err)
	}
	if len(history) == 0 {
		e.logger.Warn("instance has no history, re-appending start event", "instance_id", id)
		if err := e.append(ctx, api.ExecutionStarted(id, inst.Name, inst.Input)); err != nil {
			return api.Intent{}, err
		}
		if history, err = e.history.ListEvents(ctx, id); err != nil {
			return api.Intent{}, fmt.Errorf("load history of %s: %w", id, err)
		}
	}
	if s := replay.Summarize(history); s.Terminal != nil {
		return api.Intent{}, e.reconcile(ctx, inst, *s.Terminal)
	}

	fn, err := e.orchestrator(inst.Name)
	if err != nil {
		return api.Intent{}, err
	}

	decision, err := replay.Advance(id, fn, history)
	if err != nil {
		e.logger.Error("replay failed", "instance_id", id, "orchestrator", inst.Name, "error", err)
		return api.Intent{}, fmt.Errorf("replay %s: %w", id, err)
	}

	started := inst.Status == api.StatusPending
	if started {
		if err := e.transition(inst, api.StatusRunning); err != nil {
			return api.Intent{}, err
		}
	}
	if decision.CustomStatusSet {
		inst.CustomStatus = decision.CustomStatus
	}

	if err := e.apply(ctx, inst, decision.Intent, started); err != nil {
		return api.Intent{}, err
	}
	return decision.Intent, nil
}

// apply makes intent durable: history first, then the instance projection,
// then observers, then dispatch.
func (e *engineImpl) apply(ctx context.Context, inst *api.Instance, intent api.Intent, started bool) error {
	id := inst.ID
	var notify func(view *api.InstanceStatus)

	switch intent.Kind {
	case api.IntentScheduleActivity:
		if err := e.append(ctx, api.TaskScheduled(id, intent.TaskID, intent.Name, intent.Input)); err != nil {
			return err
		}
		notify = func(*api.InstanceStatus) {
			e.observer.OnActivityScheduled(ctx, id, intent.TaskID, intent.Name)
		}

	case api.IntentAwaitingCompletion:

	case api.IntentComplete:
		if err := e.append(ctx, api.ExecutionCompleted(id, intent.Output)); err != nil {
			return err
		}
		if err := e.transition(inst, api.StatusCompleted); err != nil {
			return err
		}
		inst.Output = intent.Output
		inst.Error = ""
		notify = func(view *api.InstanceStatus) { e.observer.OnInstanceCompleted(ctx, view) }

	case api.IntentFail:
		if err := e.append(ctx, api.ExecutionFailed(id, intent.Error)); err != nil {
			return err
		}
		if err := e.transition(inst, api.StatusFailed); err != nil {
			return err
		}
		inst.Error = intent.Error
		notify = func(view *api.InstanceStatus) {
			e.observer.OnInstanceFailed(ctx, view, errors.New(intent.Error))
		}

	case api.IntentStopped:
		if !bytes.Equal(inst.Output, intent.Output) {
			inst.Output = intent.Output
			notify = func(view *api.InstanceStatus) { e.observer.OnInstanceStopped(ctx, view) }
		}

	default:
		return fmt.Errorf("unknown intent %q for %s", intent.Kind, id)
	}

	if err := e.save(ctx, inst); err != nil {
		return err
	}

	view := inst.StatusView()
	if started {
		e.observer.OnInstanceStarted(ctx, view)
	}
	if notify != nil {
		notify(view)
	}

	if intent.Kind == api.IntentScheduleActivity {
		// The task is recorded; if dispatch fails the recovery sweep
		// re-dispatches it.
		return e.dispatcher.Dispatch(ctx, id, intent)
	}
	return nil
}

// reconcile brings a projection that lags behind a terminal history up to
// date. It always returns api.ErrInstanceFinalized.
func (e *engineImpl) reconcile(ctx context.Context, inst *api.Instance, terminal api.HistoryEvent) error {
	var next api.Status
	switch terminal.Type {
	case api.EventExecutionCompleted:
		next = api.StatusCompleted
		inst.Output = terminal.Payload
	case api.EventExecutionFailed:
		next = api.StatusFailed
		inst.Error = terminal.Error
	default:
		next = api.StatusTerminated
		inst.Error = terminal.Error
	}

	if inst.Status == api.StatusPending && next != api.StatusTerminated {
		inst.Status = api.StatusRunning
	}
	if err := e.transition(inst, next); err != nil {
		return err
	}
	if err := e.save(ctx, inst); err != nil {
		return err
	}
	e.logger.Warn("reconciled instance with terminal history",
		"instance_id", inst.ID,
		"status", inst.Status,
		"event", terminal.Type,
	)
	return fmt.Errorf("%w: %s is %s", api.ErrInstanceFinalized, inst.ID, inst.Status)
}
