package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/internal/replay"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

func (e *engineImpl) RecoverInFlight(ctx context.Context, staleAfter time.Duration) (int, error) {
	var candidates []*api.Instance
	for _, st := range []api.Status{api.StatusPending, api.StatusRunning} {
		insts, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{Status: st})
		if err != nil {
			return 0, fmt.Errorf("list %s instances: %w", st, err)
		}
		candidates = append(candidates, insts...)
	}

	cutoff := e.now().Add(-staleAfter)
	var (
		touched int
		errs    []error
	)
	for _, inst := range candidates {
		if err := ctx.Err(); err != nil {
			return touched, err
		}
		recovered, err := e.recoverInstance(ctx, inst, staleAfter, cutoff)
		if err != nil {
			e.logger.Error("recovery failed", "instance_id", inst.ID, "error", err)
			errs = append(errs, fmt.Errorf("recover %s: %w", inst.ID, err))
			continue
		}
		if recovered {
			touched++
		}
	}

	if touched > 0 {
		e.logger.Info("recovered in-flight instances", "count", touched, "stale_after", staleAfter)
	}
	return touched, errors.Join(errs...)
}

// recoverInstance reports false for an instance that has nothing left to
// recover.
func (e *engineImpl) recoverInstance(ctx context.Context, inst *api.Instance, staleAfter time.Duration, cutoff time.Time) (bool, error) {
	history, err := e.history.ListEvents(ctx, inst.ID)
	if err != nil {
		return false, err
	}
	if halted(inst, history) {
		return false, nil
	}

	for _, ev := range replay.Outstanding(history) {
		if staleAfter > 0 && ev.At.After(cutoff) {
			continue
		}
		if err := e.redispatch(ctx, ev); err != nil {
			return false, err
		}
	}

	// Advance also repairs a missing start event and a projection that
	// lags behind a terminal history.
	if e.queue != nil {
		return true, e.queue.Enqueue(ctx, taskqueue.NewAdvanceTask(inst.ID))
	}
	if err := e.drive(ctx, inst.ID); err != nil && !isBusy(err) {
		return false, err
	}
	return true, nil
}

// halted reports whether inst stopped on a false result and its projection
// already holds the stopped output. Such an instance stays RUNNING until it
// is terminated; replaying it again cannot change anything.
func halted(inst *api.Instance, history []api.HistoryEvent) bool {
	if inst.Status != api.StatusRunning || len(inst.Output) == 0 {
		return false
	}
	if replay.Summarize(history).Terminal != nil {
		return false
	}
	return len(replay.Outstanding(history)) == 0
}

// redispatch hands an outstanding task back to the queue. Activity tasks
// carry a deterministic ID, so a task that is still queued is not
// duplicated.
func (e *engineImpl) redispatch(ctx context.Context, scheduled api.HistoryEvent) error {
	if e.queue == nil {
		// drive executes outstanding tasks inline.
		return nil
	}
	e.logger.Info("re-dispatching activity",
		"instance_id", scheduled.InstanceID,
		"task_id", scheduled.TaskID,
		"activity", scheduled.Name,
	)
	return e.dispatcher.Dispatch(ctx, scheduled.InstanceID, api.Intent{
		Kind:   api.IntentScheduleActivity,
		TaskID: scheduled.TaskID,
		Name:   scheduled.Name,
		Input:  scheduled.Payload,
	})
}
