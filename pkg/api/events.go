package api

import (
	"encoding/json"
	"time"
)

// EventType identifies a history event.
type EventType string

const (
	EventExecutionStarted    EventType = "execution.started"
	EventTaskScheduled       EventType = "task.scheduled"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskFailed          EventType = "task.failed"
	EventExecutionCompleted  EventType = "execution.completed"
	EventExecutionFailed     EventType = "execution.failed"
	EventExecutionTerminated EventType = "execution.terminated"
)

// IsTerminal reports whether t ends an instance history.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventExecutionCompleted, EventExecutionFailed, EventExecutionTerminated:
		return true
	default:
		return false
	}
}

// IsTaskOutcome reports whether t records an activity result.
func (t EventType) IsTaskOutcome() bool {
	return t == EventTaskCompleted || t == EventTaskFailed
}

// HistoryEvent is one immutable, ordered fact in an instance history.
type HistoryEvent struct {
	InstanceID string    `json:"instanceId"`
	Seq        int       `json:"seq"`
	At         time.Time `json:"at"`
	Type       EventType `json:"type"`

	// TaskID is the 1-based activity sequence number for task events and
	// zero for execution events.
	TaskID int `json:"taskId,omitempty"`

	// Name is the activity name for TaskScheduled and the orchestrator name
	// for ExecutionStarted.
	Name string `json:"name,omitempty"`

	// Payload is the input (ExecutionStarted, TaskScheduled), the result
	// (TaskCompleted) or the output (ExecutionCompleted).
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error carries the failure message for TaskFailed / ExecutionFailed and
	// the reason for ExecutionTerminated.
	Error string `json:"error,omitempty"`
}

// ExecutionStarted builds event 0 of a history.
func ExecutionStarted(instanceID, name string, input json.RawMessage) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventExecutionStarted, Name: name, Payload: input}
}

// TaskScheduled records that the orchestrator requested activity name.
func TaskScheduled(instanceID string, taskID int, name string, input json.RawMessage) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventTaskScheduled, TaskID: taskID, Name: name, Payload: input}
}

// TaskCompleted records a successful activity result.
func TaskCompleted(instanceID string, taskID int, result json.RawMessage) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventTaskCompleted, TaskID: taskID, Payload: result}
}

// TaskFailed records an activity failure.
func TaskFailed(instanceID string, taskID int, errMsg string) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventTaskFailed, TaskID: taskID, Error: errMsg}
}

// ExecutionCompleted is the terminal marker for a successful instance.
func ExecutionCompleted(instanceID string, output json.RawMessage) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventExecutionCompleted, Payload: output}
}

// ExecutionFailed is the terminal marker for a failed instance.
func ExecutionFailed(instanceID string, errMsg string) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventExecutionFailed, Error: errMsg}
}

// ExecutionTerminated is the terminal marker written by Terminate.
func ExecutionTerminated(instanceID string, reason string) HistoryEvent {
	return HistoryEvent{InstanceID: instanceID, Type: EventExecutionTerminated, Error: reason}
}
