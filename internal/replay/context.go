package replay

import (
	"encoding/json"
	"fmt"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// orchestrationContext is the api.OrchestrationContext of a single pass.
type orchestrationContext struct {
	instanceID string
	input      json.RawMessage

	scheduled []api.HistoryEvent       // indexed by taskID-1
	outcomes  map[int]api.HistoryEvent // keyed by taskID
	cursor    int                      // next scheduled task to consume

	// pending is set when the pass halts; every later call returns the
	// same suspension.
	pending *api.Intent
	fault   error

	customStatus    string
	customStatusSet bool
}

var _ api.OrchestrationContext = (*orchestrationContext)(nil)

func newContext(instanceID string, history []api.HistoryEvent) (*orchestrationContext, error) {
	c := &orchestrationContext{
		instanceID: instanceID,
		input:      history[0].Payload,
		outcomes:   make(map[int]api.HistoryEvent),
	}
	for _, ev := range history[1:] {
		switch {
		case ev.Type == api.EventTaskScheduled:
			if ev.TaskID != len(c.scheduled)+1 {
				return nil, fmt.Errorf("%w: task %d recorded at position %d", api.ErrCorruptHistory, ev.TaskID, len(c.scheduled)+1)
			}
			c.scheduled = append(c.scheduled, ev)
		case ev.Type.IsTaskOutcome():
			if _, dup := c.outcomes[ev.TaskID]; dup {
				return nil, fmt.Errorf("%w: task %d has two outcomes", api.ErrCorruptHistory, ev.TaskID)
			}
			c.outcomes[ev.TaskID] = ev
		}
	}
	for id := range c.outcomes {
		if id < 1 || id > len(c.scheduled) {
			return nil, fmt.Errorf("%w: outcome for unscheduled task %d", api.ErrCorruptHistory, id)
		}
	}
	return c, nil
}

func (c *orchestrationContext) InstanceID() string { return c.instanceID }

func (c *orchestrationContext) Input(v any) error {
	if len(c.input) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.input, v); err != nil {
		return fmt.Errorf("decode orchestration input: %w", err)
	}
	return nil
}

func (c *orchestrationContext) IsReplaying() bool {
	if c.pending != nil || c.cursor >= len(c.scheduled) {
		return false
	}
	_, ok := c.outcomes[c.scheduled[c.cursor].TaskID]
	return ok
}

func (c *orchestrationContext) SetCustomStatus(status string) {
	c.customStatus = status
	c.customStatusSet = true
}

func (c *orchestrationContext) CallActivity(name string, input any, result any) error {
	if c.pending != nil {
		return api.NewSuspendedError(c.pending.TaskID, c.pending.Name)
	}

	if c.cursor >= len(c.scheduled) {
		data, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encode input for activity %s: %w", name, err)
		}
		taskID := len(c.scheduled) + 1
		return c.halt(api.Intent{Kind: api.IntentScheduleActivity, TaskID: taskID, Name: name, Input: data})
	}

	rec := c.scheduled[c.cursor]
	c.cursor++

	if rec.Name != name {
		c.fault = fmt.Errorf("%w: task %d recorded as %q, orchestrator called %q", api.ErrNondeterminism, rec.TaskID, rec.Name, name)
		return c.halt(api.Intent{Kind: api.IntentAwaitingCompletion, TaskID: rec.TaskID, Name: rec.Name})
	}

	outcome, ok := c.outcomes[rec.TaskID]
	if !ok {
		return c.halt(api.Intent{Kind: api.IntentAwaitingCompletion, TaskID: rec.TaskID, Name: rec.Name})
	}

	if outcome.Type == api.EventTaskFailed {
		return &api.ActivityError{TaskID: rec.TaskID, Name: rec.Name, Message: outcome.Error}
	}
	if result == nil || len(outcome.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(outcome.Payload, result); err != nil {
		return fmt.Errorf("decode result of activity %s (task %d): %w", rec.Name, rec.TaskID, err)
	}
	return nil
}

func (c *orchestrationContext) halt(intent api.Intent) error {
	c.pending = &intent
	return api.NewSuspendedError(intent.TaskID, intent.Name)
}
