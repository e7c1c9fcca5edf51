// Package worker provides the background worker that drives pedidoflow
// instances forward.
//
// Workers consume tasks from a task queue. An activity task runs the named
// activity, records its outcome in the instance history and advances the
// instance; an advance task runs one replay pass. Multiple workers can
// safely share a queue: the engine admits one advance per instance at a
// time, and a worker that finds an instance busy hands the task back to
// the queue with a delay instead of waiting on it.
//
// # Delivery
//
// Queues are at-least-once. An activity may therefore run more than once
// for the same task id; only the first recorded outcome counts and later
// ones are dropped. Outcomes arriving after an instance was terminated are
// dropped the same way.
//
// # Usage
//
//	eng := engine.NewEngineWithConfig(engine.Config{Persistence: p, Queue: q})
//	pedido.Register(eng)
//	w := worker.New(eng, q)
//	go w.Run(ctx, 4)
package worker
