package api

import "errors"

var (
	// ErrInstanceNotFound is returned when no instance exists for an id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceBusy is returned when another advance holds the instance.
	ErrInstanceBusy = errors.New("instance is busy")

	// ErrInstanceFinalized is returned for writes against a terminal instance.
	ErrInstanceFinalized = errors.New("instance is finalized")

	// ErrDuplicateCompletion is returned when an outcome for a task id is
	// already recorded.
	ErrDuplicateCompletion = errors.New("duplicate task completion")

	// ErrUnknownTask is returned for an outcome whose task id was never scheduled.
	ErrUnknownTask = errors.New("completion for unscheduled task")

	// ErrOutOfOrderTask is returned when a TaskScheduled id is not the next
	// sequence number.
	ErrOutOfOrderTask = errors.New("task id out of order")

	// ErrCorruptHistory is returned when a history cannot be replayed.
	ErrCorruptHistory = errors.New("corrupt history")

	// ErrNondeterminism is returned when orchestrator logic diverges from
	// its recorded history.
	ErrNondeterminism = errors.New("nondeterministic orchestrator")

	// ErrUnknownOrchestrator is returned when no orchestrator is registered
	// under a name.
	ErrUnknownOrchestrator = errors.New("unknown orchestrator")

	// ErrUnknownActivity is returned when no activity is registered under a name.
	ErrUnknownActivity = errors.New("unknown activity")

	// ErrInvalidTransition is returned for a non-monotonic status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStopped is returned by an orchestrator, together with its partial
	// output, to stop advancing without failing the instance.
	ErrStopped = errors.New("orchestration stopped")
)
