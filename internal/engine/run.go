package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/pedidoflow/internal/replay"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// ErrQueuedEngine is returned by Run on engines configured with a task queue.
var ErrQueuedEngine = errors.New("run requires an engine without a task queue")

func (e *engineImpl) Run(ctx context.Context, name string, input any) (*api.InstanceStatus, error) {
	if e.queue != nil {
		return nil, ErrQueuedEngine
	}

	id, err := e.create(ctx, name, input)
	if err != nil {
		return nil, err
	}
	if err := e.drive(ctx, id); err != nil {
		if st, sErr := e.Status(ctx, id); sErr == nil {
			return st, err
		}
		return nil, err
	}
	return e.Status(ctx, id)
}

// drive advances id and executes its activities inline until the
// orchestrator completes, fails or stops.
func (e *engineImpl) drive(ctx context.Context, id string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		intent, err := e.Advance(ctx, id)
		if errors.Is(err, api.ErrInstanceFinalized) {
			return nil
		}
		if err != nil {
			return err
		}

		switch intent.Kind {
		case api.IntentScheduleActivity, api.IntentAwaitingCompletion:
			n, err := e.runOutstanding(ctx, id)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("instance %s awaits task %d but nothing is outstanding", id, intent.TaskID)
			}
		default:
			return nil
		}
	}
}

// runOutstanding executes every scheduled task of id that has no outcome
// and records the results. It returns how many tasks it ran.
func (e *engineImpl) runOutstanding(ctx context.Context, id string) (int, error) {
	history, err := e.history.ListEvents(ctx, id)
	if err != nil {
		return 0, err
	}
	pending := replay.Outstanding(history)
	for _, ev := range pending {
		outcome := e.ExecuteActivity(ctx, api.ActivityTask{
			InstanceID: id,
			TaskID:     ev.TaskID,
			Name:       ev.Name,
			Input:      ev.Payload,
		})
		if err := e.RecordTaskResult(ctx, outcome); err != nil && !isLateOutcome(err) {
			return 0, err
		}
	}
	return len(pending), nil
}

// isLateOutcome reports errors that mean the outcome is no longer needed.
func isLateOutcome(err error) bool {
	return errors.Is(err, api.ErrDuplicateCompletion) || errors.Is(err, api.ErrInstanceFinalized)
}
