// Package api contains the core building blocks used by the pedidoflow
// orchestration engine: instance records, history events, replay intents,
// orchestrator and activity function types, and observers.
//
// Most users interact with the higher-level pedidoflow package, which
// re-exports selected types and constructors from this package. The api
// package is intended for custom integrations, alternative stores, or
// contributors extending the engine itself.
//
// # History
//
// Every orchestration instance owns an append-only history. The history is
// the only source of truth for replay:
//
//   - ExecutionStarted is always event 0 and carries the instance input.
//   - TaskScheduled records an activity request with a 1-based task id.
//   - TaskCompleted / TaskFailed record the outcome for a scheduled task id.
//   - ExecutionCompleted, ExecutionFailed and ExecutionTerminated are terminal.
//
// Stores reject appends that would break these rules instead of overwriting
// anything.
//
// # Orchestrators
//
// An OrchestratorFunc is ordinary sequential Go code. It calls activities
// through an OrchestrationContext:
//
//	func(ctx api.OrchestrationContext) (any, error) {
//	    var ok bool
//	    if err := ctx.CallActivity("check", input, &ok); err != nil {
//	        if api.IsSuspended(err) {
//	            return nil, err
//	        }
//	        ok = false
//	    }
//	    ...
//	}
//
// The engine replays the function from the start on every pass. A call whose
// outcome is already recorded returns immediately; the first call without a
// recorded outcome suspends the pass. Orchestrators must therefore be
// deterministic: the same history prefix must lead to the same sequence of
// activity calls. Branching on activity results is fine.
//
// # Activities
//
// An ActivityFunc is a stateless unit of work addressed by name. Activities
// run on any worker and may be executed more than once if a worker crashes;
// only one outcome per task id is ever recorded.
//
// # Observability
//
// The Observer interface receives instance and activity lifecycle callbacks.
// LoggingObserver, BasicMetrics and CompositeObserver are provided here;
// Prometheus and event-bus observers live in internal packages wired by the
// pedidoflow command.
package api
