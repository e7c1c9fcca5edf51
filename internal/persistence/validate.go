package persistence

import (
	"fmt"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// ValidateAppend checks that ev may be appended to existing.
//
//   - event 0 is ExecutionStarted and no later event is;
//   - nothing follows a terminal event;
//   - TaskScheduled ids are exactly previous+1, starting at 1;
//   - an outcome refers to a scheduled task that has no outcome yet.
func ValidateAppend(existing []api.HistoryEvent, ev api.HistoryEvent) error {
	if ev.InstanceID == "" {
		return fmt.Errorf("%w: event without instance id", api.ErrCorruptHistory)
	}
	if len(existing) == 0 {
		if ev.Type != api.EventExecutionStarted {
			return fmt.Errorf("%w: first event must be %s, got %s", api.ErrCorruptHistory, api.EventExecutionStarted, ev.Type)
		}
		return nil
	}
	if ev.Type == api.EventExecutionStarted {
		return fmt.Errorf("%w: %s is only valid as event 0", api.ErrCorruptHistory, ev.Type)
	}
	if last := existing[len(existing)-1]; last.Type.IsTerminal() {
		return fmt.Errorf("%w: %s after %s", api.ErrInstanceFinalized, ev.Type, last.Type)
	}

	scheduled := 0
	done := make(map[int]bool)
	for _, e := range existing {
		switch {
		case e.Type == api.EventTaskScheduled:
			scheduled++
		case e.Type.IsTaskOutcome():
			done[e.TaskID] = true
		}
	}

	switch {
	case ev.Type == api.EventTaskScheduled:
		if ev.TaskID != scheduled+1 {
			return fmt.Errorf("%w: got task %d, want %d", api.ErrOutOfOrderTask, ev.TaskID, scheduled+1)
		}
	case ev.Type.IsTaskOutcome():
		if ev.TaskID < 1 || ev.TaskID > scheduled {
			return fmt.Errorf("%w: task %d", api.ErrUnknownTask, ev.TaskID)
		}
		if done[ev.TaskID] {
			return fmt.Errorf("%w: task %d", api.ErrDuplicateCompletion, ev.TaskID)
		}
	case ev.Type.IsTerminal():
	default:
		return fmt.Errorf("%w: unknown event type %q", api.ErrCorruptHistory, ev.Type)
	}
	return nil
}

// prepareAppend validates ev and assigns its position and timestamp.
func prepareAppend(existing []api.HistoryEvent, ev api.HistoryEvent) (api.HistoryEvent, error) {
	if err := ValidateAppend(existing, ev); err != nil {
		return api.HistoryEvent{}, err
	}
	ev.Seq = len(existing)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev, nil
}

// taskSlot distinguishes the scheduling row of a task from its outcome row
// in stores that enforce uniqueness with an index.
func taskSlot(t api.EventType) string {
	switch {
	case t == api.EventTaskScheduled:
		return "scheduled"
	case t.IsTaskOutcome():
		return "outcome"
	default:
		return ""
	}
}
