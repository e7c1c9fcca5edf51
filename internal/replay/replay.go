// Package replay re-executes orchestrator logic against a recorded history
// and decides the next step of an instance.
//
// Activity calls are matched to TaskScheduled events by position: the n-th
// call of a pass consumes the n-th recorded task. A call past the end of the
// recorded tasks is new progress and halts the pass with a schedule intent;
// a call whose task has no outcome yet halts with awaiting-completion.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// Decision is the result of one replay pass.
type Decision struct {
	Intent api.Intent

	// CustomStatus is the last value set by the orchestrator during the
	// pass. CustomStatusSet is false if it never called SetCustomStatus.
	CustomStatus    string
	CustomStatusSet bool
}

// Advance replays history against fn and returns the next intent.
//
// history must start with ExecutionStarted. Terminal events are ignored, so
// the history of a finished instance replays to the same decision it
// produced live. Advance never mutates history; a divergence between fn and
// the recorded tasks is reported as api.ErrNondeterminism.
func Advance(instanceID string, fn api.OrchestratorFunc, history []api.HistoryEvent) (Decision, error) {
	if len(history) == 0 || history[0].Type != api.EventExecutionStarted {
		return Decision{}, fmt.Errorf("%w: instance %s has no %s event", api.ErrCorruptHistory, instanceID, api.EventExecutionStarted)
	}

	octx, err := newContext(instanceID, history)
	if err != nil {
		return Decision{}, err
	}

	out, runErr := run(fn, octx)

	decision := Decision{CustomStatus: octx.customStatus, CustomStatusSet: octx.customStatusSet}

	if octx.fault != nil {
		return Decision{}, octx.fault
	}
	if octx.pending != nil {
		decision.Intent = *octx.pending
		return decision, nil
	}
	if octx.cursor < len(octx.scheduled) {
		rec := octx.scheduled[octx.cursor]
		return Decision{}, fmt.Errorf("%w: orchestrator finished before recorded task %d (%s)", api.ErrNondeterminism, rec.TaskID, rec.Name)
	}

	switch {
	case runErr == nil:
		decision.Intent = outputIntent(api.IntentComplete, out)
	case errors.Is(runErr, api.ErrStopped):
		decision.Intent = outputIntent(api.IntentStopped, out)
	default:
		decision.Intent = api.Intent{Kind: api.IntentFail, Error: runErr.Error()}
	}
	return decision, nil
}

// run calls fn, turning a panic into an error.
func run(fn api.OrchestratorFunc, octx *orchestrationContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("orchestrator panic: %v", r)
		}
	}()
	return fn(octx)
}

func outputIntent(kind api.IntentKind, out any) api.Intent {
	data, err := json.Marshal(out)
	if err != nil {
		return api.Intent{Kind: api.IntentFail, Error: fmt.Sprintf("encode orchestrator output: %v", err)}
	}
	return api.Intent{Kind: kind, Output: data}
}

// Outstanding returns the TaskScheduled events that have no outcome yet,
// in task order.
func Outstanding(history []api.HistoryEvent) []api.HistoryEvent {
	done := make(map[int]bool)
	for _, ev := range history {
		if ev.Type.IsTaskOutcome() {
			done[ev.TaskID] = true
		}
	}
	var out []api.HistoryEvent
	for _, ev := range history {
		if ev.Type == api.EventTaskScheduled && !done[ev.TaskID] {
			out = append(out, ev)
		}
	}
	return out
}

// Summary describes a history without replaying it.
type Summary struct {
	Started   bool
	Scheduled int
	Completed int
	Failed    int

	// Terminal is the terminal event, if the history has one.
	Terminal *api.HistoryEvent
}

// Summarize counts the events of history.
func Summarize(history []api.HistoryEvent) Summary {
	var s Summary
	for i := range history {
		ev := history[i]
		switch {
		case ev.Type == api.EventExecutionStarted:
			s.Started = true
		case ev.Type == api.EventTaskScheduled:
			s.Scheduled++
		case ev.Type == api.EventTaskCompleted:
			s.Completed++
		case ev.Type == api.EventTaskFailed:
			s.Failed++
		case ev.Type.IsTerminal():
			s.Terminal = &history[i]
		}
	}
	return s
}
