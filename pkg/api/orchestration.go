package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// OrchestratorFunc is the sequential logic of an orchestration. It is
// re-executed from the start on every replay pass and must call activities
// in the same order given the same recorded results.
//
// Return semantics:
//   - (output, nil): the instance completes with output.
//   - (output, ErrStopped): the instance stops advancing and stays RUNNING.
//   - (_, err) where IsSuspended(err): the pass halted at an activity call.
//   - (_, err): the instance fails with err.
type OrchestratorFunc func(ctx OrchestrationContext) (any, error)

// OrchestrationContext is the replay-aware handle given to orchestrators.
type OrchestrationContext interface {
	// InstanceID returns the id of the running instance.
	InstanceID() string

	// Input decodes the instance input into v. A missing input leaves v unchanged.
	Input(v any) error

	// IsReplaying reports whether the next activity call will be served from
	// recorded history.
	IsReplaying() bool

	// CallActivity runs the named activity with input and decodes its result
	// into result (which may be nil). It returns nil on success, an
	// *ActivityError if the activity failed, or a suspension error that the
	// orchestrator must return unchanged.
	CallActivity(name string, input any, result any) error

	// SetCustomStatus overwrites the free-form progress string of the instance.
	SetCustomStatus(status string)
}

// suspendedError is returned by CallActivity when the pass cannot continue.
type suspendedError struct {
	TaskID int
	Name   string
}

func (e *suspendedError) Error() string {
	return fmt.Sprintf("orchestration suspended at task %d (%s)", e.TaskID, e.Name)
}

// NewSuspendedError is used by the replay engine to halt a pass at taskID.
func NewSuspendedError(taskID int, name string) error {
	return &suspendedError{TaskID: taskID, Name: name}
}

// IsSuspended reports whether err halts the current replay pass.
func IsSuspended(err error) bool {
	var s *suspendedError
	return errors.As(err, &s)
}

// ActivityError is returned by CallActivity for a recorded TaskFailed.
type ActivityError struct {
	TaskID  int
	Name    string
	Message string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s (task %d) failed: %s", e.Name, e.TaskID, e.Message)
}

// ActivityFunc is a stateless unit of work addressed by name. The returned
// value is JSON-encoded into the TaskCompleted event.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// TypedActivity adapts a typed function to ActivityFunc. A JSON null or
// empty input is passed as a nil pointer.
func TypedActivity[In any, Out any](fn func(ctx context.Context, in *In) (Out, error)) ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		var in *In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decode activity input: %w", err)
			}
		}
		return fn(ctx, in)
	}
}

// ActivityTask identifies one activity execution.
type ActivityTask struct {
	InstanceID string
	TaskID     int
	Name       string
	Input      json.RawMessage
}

// ActivityInfo describes the activity execution an ActivityFunc is serving.
type ActivityInfo struct {
	InstanceID string
	TaskID     int
	Name       string
}

type activityInfoKey struct{}

// WithActivityInfo attaches info to ctx for the duration of an activity call.
func WithActivityInfo(ctx context.Context, info ActivityInfo) context.Context {
	return context.WithValue(ctx, activityInfoKey{}, info)
}

// ActivityInfoFromContext returns the ActivityInfo attached by the dispatcher.
func ActivityInfoFromContext(ctx context.Context) (ActivityInfo, bool) {
	info, ok := ctx.Value(activityInfoKey{}).(ActivityInfo)
	return info, ok
}
