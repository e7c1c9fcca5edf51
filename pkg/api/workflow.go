package api

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an orchestration instance.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. Completed and Failed are only reachable from Running.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusTerminated
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusTerminated
	default:
		return false
	}
}

// Instance is the persisted record of one orchestration instance. It is a
// projection over the instance history plus metadata that is not part of the
// replay contract (CustomStatus, timestamps).
type Instance struct {
	ID     string
	Name   string
	Status Status

	// CustomStatus is overwritten by the orchestrator on each pass.
	CustomStatus string

	// Input is set once at creation. Output is set when the instance
	// completes, or when the orchestrator stops without failing.
	Input  json.RawMessage
	Output json.RawMessage
	Error  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so stores never share byte slices with callers.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Input = cloneRaw(i.Input)
	c.Output = cloneRaw(i.Output)
	return &c
}

// StatusView returns the read-only projection exposed to status queries.
func (i *Instance) StatusView() *InstanceStatus {
	return &InstanceStatus{
		ID:           i.ID,
		Name:         i.Name,
		Status:       i.Status,
		CustomStatus: i.CustomStatus,
		Output:       cloneRaw(i.Output),
		Error:        i.Error,
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// InstanceStatus is the result of a status query.
type InstanceStatus struct {
	ID           string          `json:"instanceId"`
	Name         string          `json:"name"`
	Status       Status          `json:"runtimeStatus"`
	CustomStatus string          `json:"customStatus,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdTime"`
	UpdatedAt    time.Time       `json:"lastUpdatedTime"`
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Name, if non-empty, limits results to instances of the given orchestrator.
	Name string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
