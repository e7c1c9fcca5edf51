package api

import "encoding/json"

// IntentKind identifies what a replay pass decided.
type IntentKind string

const (
	// IntentScheduleActivity asks the dispatcher to run a new activity.
	IntentScheduleActivity IntentKind = "schedule-activity"

	// IntentAwaitingCompletion means a scheduled task is still in flight.
	IntentAwaitingCompletion IntentKind = "awaiting-completion"

	// IntentComplete ends the instance successfully.
	IntentComplete IntentKind = "complete"

	// IntentFail ends the instance with an error.
	IntentFail IntentKind = "fail"

	// IntentStopped means the orchestrator chose to stop advancing without
	// failing. No work is outstanding and the instance stays RUNNING.
	IntentStopped IntentKind = "stopped"
)

// Intent is the outcome of one replay pass.
type Intent struct {
	Kind IntentKind `json:"kind"`

	// TaskID and Name are set for schedule-activity and awaiting-completion.
	TaskID int    `json:"taskId,omitempty"`
	Name   string `json:"name,omitempty"`

	// Input is the activity input for schedule-activity.
	Input json.RawMessage `json:"input,omitempty"`

	// Output is set for complete and stopped.
	Output json.RawMessage `json:"output,omitempty"`

	// Error is set for fail.
	Error string `json:"error,omitempty"`
}
