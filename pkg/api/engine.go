package api

import (
	"context"
	"time"
)

// Engine is the instance manager API.
type Engine interface {
	// RegisterOrchestrator registers orchestrator logic by name.
	RegisterOrchestrator(name string, fn OrchestratorFunc) error

	// RegisterActivity registers an activity handler by name.
	RegisterActivity(name string, fn ActivityFunc) error

	// Start creates an instance in PENDING with an ExecutionStarted event
	// and triggers its first advance. It returns the new instance id.
	Start(ctx context.Context, name string, input any) (string, error)

	// Run starts an instance and drives it synchronously, executing
	// activities inline, until no further progress is possible.
	// It is only available on engines without a task queue.
	Run(ctx context.Context, name string, input any) (*InstanceStatus, error)

	// Status returns the status projection of an instance. It never replays.
	Status(ctx context.Context, id string) (*InstanceStatus, error)

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*InstanceStatus, error)

	// History returns the recorded events of an instance in order.
	History(ctx context.Context, id string) ([]HistoryEvent, error)

	// Terminate appends an ExecutionTerminated event and finalizes the
	// instance. Outcomes of in-flight activities are dropped afterwards.
	Terminate(ctx context.Context, id string, reason string) error

	// RecoverInFlight re-dispatches activities that were scheduled more than
	// staleAfter ago without a recorded outcome, reconciles instances whose
	// projection lags behind their history, and re-advances every
	// non-terminal instance. staleAfter <= 0 selects every outstanding task.
	// Instances stopped on a false result with nothing outstanding are
	// skipped.
	//
	// It returns the number of instances it touched. It is intended to be
	// called on process startup and periodically by a sweeper.
	RecoverInFlight(ctx context.Context, staleAfter time.Duration) (int, error)
}

// WorkerEngine is implemented by engines to let workers drive instances
// directly from queued tasks.
type WorkerEngine interface {
	Engine

	// Advance runs one replay pass for the instance and applies the
	// resulting intent. It returns ErrInstanceBusy if another advance holds
	// the instance and ErrInstanceFinalized if the instance is terminal.
	Advance(ctx context.Context, id string) (Intent, error)

	// ExecuteActivity runs the registered activity for task and returns the
	// TaskCompleted or TaskFailed event to record.
	ExecuteActivity(ctx context.Context, task ActivityTask) HistoryEvent

	// RecordTaskResult appends an activity outcome. It returns
	// ErrDuplicateCompletion if the task already has an outcome.
	RecordTaskResult(ctx context.Context, ev HistoryEvent) error
}
