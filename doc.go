// Package pedidoflow is a durable order approval service built on a small
// event-sourced orchestration engine.
//
// An order approval walks one order through the PedidoCriado, PedidoEmAnalise
// and PedidoAprovado stages. Each stage is an activity call; a stage only
// runs when the previous one returned true, and the first false result stops
// the pipeline.
//
// # Engine
//
// The Engine owns orchestration instances. Every instance has an append-only
// history of events. Orchestrator functions never keep state of their own:
// each time an activity outcome arrives the engine replays the orchestrator
// against the history, feeding it the recorded results in order, until it
// reaches a call that has no result yet. That call becomes a new
// TaskScheduled event and is handed to a worker.
//
// Orchestrators must therefore be deterministic. A replay that calls a
// different activity than the one recorded at the same position fails with
// ErrNondeterminism and leaves the history untouched.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Each backend includes a matching task queue so workers can reliably fetch
// work; see WorkerBundle.
//
// # Workers
//
// A Worker pulls tasks from a queue. Activity tasks run the activity and
// record its outcome; advance tasks replay the orchestrator. Only one advance
// per instance runs at a time, across processes, guarded by a lease in the
// store. Queues deliver at least once and duplicate outcomes are dropped.
//
// # Recovery
//
// RecoverInFlight re-dispatches activities that were scheduled but never
// completed and repairs instances whose status lags behind their history.
// Call it on startup and periodically.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory queued engine and a worker pool into a
// process-local helper for development and unit tests. It is not crash
// durable.
//
// The pedidoflow command in cmd/pedidoflow serves the HTTP API on top of
// these pieces.
package pedidoflow
