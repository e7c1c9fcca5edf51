package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petrijr/pedidoflow/internal/persistence"
	"github.com/petrijr/pedidoflow/internal/taskqueue"
	"github.com/petrijr/pedidoflow/pkg/api"
)

const (
	gatedName = "gated"
	checkName = "check"
)

// gated calls check for stages 1..3 and stops at the first false result.
func gated(ctx api.OrchestrationContext) (any, error) {
	var out []string
	for stage := 1; stage <= 3; stage++ {
		var ok bool
		if err := ctx.CallActivity(checkName, stage, &ok); err != nil {
			if api.IsSuspended(err) {
				return nil, err
			}
			ok = false
		}
		out = append(out, fmt.Sprintf("stage %d: %t", stage, ok))
		ctx.SetCustomStatus(fmt.Sprintf("stage %d", stage))
		if !ok {
			return out, api.ErrStopped
		}
	}
	return out, nil
}

// checkActivity returns false for the stages listed in reject.
func checkActivity(reject ...int) api.ActivityFunc {
	return api.TypedActivity(func(_ context.Context, stage *int) (bool, error) {
		if stage == nil {
			return false, nil
		}
		for _, r := range reject {
			if *stage == r {
				return false, nil
			}
		}
		return true, nil
	})
}

func newTestEngine(t *testing.T, cfg Config, reject ...int) *engineImpl {
	t.Helper()
	if cfg.Persistence.Instances == nil {
		cfg.Persistence = persistence.NewInMemoryPersistence()
	}
	e := NewEngineWithConfig(cfg).(*engineImpl)
	require.NoError(t, e.RegisterOrchestrator(gatedName, gated))
	require.NoError(t, e.RegisterActivity(checkName, checkActivity(reject...)))
	return e
}

func eventTypes(evs []api.HistoryEvent) []api.EventType {
	out := make([]api.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRunCompletesAllStages(t *testing.T) {
	ctx := context.Background()
	metrics := &api.BasicMetrics{}
	e := newTestEngine(t, Config{Observer: metrics})

	st, err := e.Run(ctx, gatedName, map[string]int{"pedidoId": 1})
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, st.Status)
	assert.JSONEq(t, `["stage 1: true","stage 2: true","stage 3: true"]`, string(st.Output))
	assert.Equal(t, "stage 3", st.CustomStatus)

	hist, err := e.History(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []api.EventType{
		api.EventExecutionStarted,
		api.EventTaskScheduled, api.EventTaskCompleted,
		api.EventTaskScheduled, api.EventTaskCompleted,
		api.EventTaskScheduled, api.EventTaskCompleted,
		api.EventExecutionCompleted,
	}, eventTypes(hist))

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.InstancesStarted)
	assert.EqualValues(t, 1, snap.InstancesCompleted)
	assert.EqualValues(t, 3, snap.ActivitiesScheduled)
	assert.EqualValues(t, 3, snap.ActivitiesCompleted)
}

func TestRunStopsAtFirstFalseStage(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{}, 2)

	st, err := e.Run(ctx, gatedName, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, st.Status, "a stopped instance is not failed")
	assert.JSONEq(t, `["stage 1: true","stage 2: false"]`, string(st.Output))

	hist, err := e.History(ctx, st.ID)
	require.NoError(t, err)
	for _, ev := range hist {
		assert.NotEqual(t, 3, ev.TaskID, "no task scheduled after a false stage")
		assert.False(t, ev.Type.IsTerminal())
	}

	// Advancing a stopped instance is a no-op.
	intent, err := e.Advance(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, api.IntentStopped, intent.Kind)
	again, err := e.History(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, again, len(hist))
}

func TestRunOrchestratorErrorFailsInstance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	require.NoError(t, e.RegisterOrchestrator("broken", func(api.OrchestrationContext) (any, error) {
		return nil, errors.New("no such pedido")
	}))

	st, err := e.Run(ctx, "broken", nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, st.Status)
	assert.Equal(t, "no such pedido", st.Error)

	hist, err := e.History(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []api.EventType{api.EventExecutionStarted, api.EventExecutionFailed}, eventTypes(hist))
}

// recordingInstances records every status written through UpdateInstance.
type recordingInstances struct {
	persistence.InstanceStore

	mu       sync.Mutex
	statuses []api.Status
}

func (r *recordingInstances) SaveInstance(ctx context.Context, inst *api.Instance) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, inst.Status)
	r.mu.Unlock()
	return r.InstanceStore.SaveInstance(ctx, inst)
}

func (r *recordingInstances) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, inst.Status)
	r.mu.Unlock()
	return r.InstanceStore.UpdateInstance(ctx, inst)
}

func TestStatusIsMonotonic(t *testing.T) {
	mem := persistence.NewInMemoryStore()
	rec := &recordingInstances{InstanceStore: mem}
	e := newTestEngine(t, Config{Persistence: persistence.Persistence{Instances: rec, History: mem}})

	_, err := e.Run(context.Background(), gatedName, nil)
	require.NoError(t, err)

	require.NotEmpty(t, rec.statuses)
	assert.Equal(t, api.StatusPending, rec.statuses[0])
	assert.Contains(t, rec.statuses, api.StatusRunning)
	assert.Equal(t, api.StatusCompleted, rec.statuses[len(rec.statuses)-1])
	for i := 1; i < len(rec.statuses); i++ {
		prev, next := rec.statuses[i-1], rec.statuses[i]
		assert.True(t, prev.CanTransitionTo(next), "%s -> %s", prev, next)
	}
}

func TestAdvanceIsIdempotentWhileTaskInFlight(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, st.Status)

	first, err := e.Advance(ctx, id)
	require.NoError(t, err)
	second, err := e.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.Intent{Kind: api.IntentAwaitingCompletion, TaskID: 1, Name: checkName}, first)
	assert.Equal(t, first, second)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []api.EventType{api.EventExecutionStarted, api.EventTaskScheduled}, eventTypes(hist))
}

func TestConcurrentAdvanceOnlyOneProceeds(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewInMemoryQueue(16)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	e := newTestEngine(t, Config{Queue: q})
	require.NoError(t, e.RegisterOrchestrator("slow", func(ctx api.OrchestrationContext) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil, ctx.CallActivity(checkName, 1, nil)
	}))

	id, err := e.Start(ctx, "slow", nil)
	require.NoError(t, err)

	type result struct {
		intent api.Intent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		intent, err := e.Advance(ctx, id)
		done <- result{intent, err}
	}()

	<-entered
	_, err = e.Advance(ctx, id)
	require.ErrorIs(t, err, api.ErrInstanceBusy)

	close(release)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, api.IntentScheduleActivity, r.intent.Kind)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	scheduled := 0
	for _, ev := range hist {
		if ev.Type == api.EventTaskScheduled {
			scheduled++
		}
	}
	assert.Equal(t, 1, scheduled)
}

func TestAdvanceBusyWhenLeasedByAnotherOwner(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemoryPersistence()
	e := newTestEngine(t, Config{Persistence: p, Queue: taskqueue.NewInMemoryQueue(4), Owner: "me"})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)

	ok, err := p.Instances.TryAcquireLease(ctx, id, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.Advance(ctx, id)
	require.ErrorIs(t, err, api.ErrInstanceBusy)

	require.NoError(t, p.Instances.ReleaseLease(ctx, id, "someone-else"))
	intent, err := e.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.IntentScheduleActivity, intent.Kind)
}

func TestRecordTaskResultRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)

	require.NoError(t, e.RecordTaskResult(ctx, api.TaskCompleted(id, 1, json.RawMessage(`true`))))
	err = e.RecordTaskResult(ctx, api.TaskCompleted(id, 1, json.RawMessage(`false`)))
	require.ErrorIs(t, err, api.ErrDuplicateCompletion)

	err = e.RecordTaskResult(ctx, api.TaskCompleted(id, 9, nil))
	require.ErrorIs(t, err, api.ErrUnknownTask)

	err = e.RecordTaskResult(ctx, api.ExecutionCompleted(id, nil))
	require.Error(t, err, "only activity outcomes can be recorded")
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	metrics := &api.BasicMetrics{}
	e := newTestEngine(t, Config{Queue: taskqueue.NewInMemoryQueue(8), Observer: metrics})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, id)
	require.NoError(t, err)

	require.NoError(t, e.Terminate(ctx, id, "cancelled by operator"))

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.StatusTerminated, st.Status)
	assert.Equal(t, "cancelled by operator", st.Error)
	assert.EqualValues(t, 1, metrics.Snapshot().InstancesTerminated)

	_, err = e.Advance(ctx, id)
	require.ErrorIs(t, err, api.ErrInstanceFinalized)

	err = e.RecordTaskResult(ctx, api.TaskCompleted(id, 1, json.RawMessage(`true`)))
	require.ErrorIs(t, err, api.ErrInstanceFinalized, "late completions are dropped")

	require.ErrorIs(t, e.Terminate(ctx, id, "again"), api.ErrInstanceFinalized)

	hist, err := e.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.EventExecutionTerminated, hist[len(hist)-1].Type)
}

func TestNondeterminismLeavesHistoryUntouched(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})

	var name atomic.Value
	name.Store("first")
	require.NoError(t, e.RegisterOrchestrator("fickle", func(ctx api.OrchestrationContext) (any, error) {
		return nil, ctx.CallActivity(name.Load().(string), nil, nil)
	}))

	id, err := e.Start(ctx, "fickle", nil)
	require.NoError(t, err)
	before, err := e.History(ctx, id)
	require.NoError(t, err)

	name.Store("second")
	_, err = e.Advance(ctx, id)
	require.ErrorIs(t, err, api.ErrNondeterminism)

	after, err := e.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnknownInstanceAndOrchestrator(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})

	_, err := e.Status(ctx, "nope")
	require.ErrorIs(t, err, api.ErrInstanceNotFound)
	_, err = e.History(ctx, "nope")
	require.ErrorIs(t, err, api.ErrInstanceNotFound)
	_, err = e.Advance(ctx, "nope")
	require.ErrorIs(t, err, api.ErrInstanceNotFound)
	require.ErrorIs(t, e.Terminate(ctx, "nope", ""), api.ErrInstanceNotFound)

	_, err = e.Start(ctx, "missing", nil)
	require.ErrorIs(t, err, api.ErrUnknownOrchestrator)

	require.Error(t, e.RegisterOrchestrator(gatedName, gated), "duplicate orchestrator")
	require.Error(t, e.RegisterActivity(checkName, checkActivity()), "duplicate activity")
	require.Error(t, e.RegisterOrchestrator("nil", nil))
}

func TestRunRequiresSynchronousEngine(t *testing.T) {
	e := newTestEngine(t, Config{Queue: taskqueue.NewInMemoryQueue(1)})
	_, err := e.Run(context.Background(), gatedName, nil)
	require.ErrorIs(t, err, ErrQueuedEngine)
}

func TestListInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{}, 1)
	require.NoError(t, e.RegisterOrchestrator("other", func(api.OrchestrationContext) (any, error) { return "ok", nil }))

	stopped, err := e.Run(ctx, gatedName, nil)
	require.NoError(t, err)
	done, err := e.Run(ctx, "other", nil)
	require.NoError(t, err)

	all, err := e.ListInstances(ctx, api.InstanceListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byName, err := e.ListInstances(ctx, api.InstanceListOptions{Name: gatedName})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, stopped.ID, byName[0].ID)

	completed, err := e.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)
}

func TestRecoverInFlightRedispatchesLostTasks(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewInMemoryQueue(16)
	e := newTestEngine(t, Config{Queue: q})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, id)
	require.NoError(t, err)

	// Lose everything that was queued.
	drain(t, q)

	n, err := e.RecoverInFlight(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks := drain(t, q)
	require.Len(t, tasks, 2)
	assert.Equal(t, taskqueue.TaskTypeActivity, tasks[0].Type)
	assert.Equal(t, 1, tasks[0].TaskID)
	assert.Equal(t, checkName, tasks[0].ActivityName)
	assert.Equal(t, taskqueue.TaskTypeAdvance, tasks[1].Type)
}

func TestRecoverInFlightSkipsFreshTasks(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewInMemoryQueue(16)
	e := newTestEngine(t, Config{Queue: q})

	id, err := e.Start(ctx, gatedName, nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, id)
	require.NoError(t, err)
	drain(t, q)

	_, err = e.RecoverInFlight(ctx, time.Hour)
	require.NoError(t, err)

	tasks := drain(t, q)
	require.Len(t, tasks, 1)
	assert.Equal(t, taskqueue.TaskTypeAdvance, tasks[0].Type)
}

func TestRecoverInFlightSkipsStoppedInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{}, 1)

	st, err := e.Run(ctx, gatedName, nil)
	require.NoError(t, err)
	require.Equal(t, api.StatusRunning, st.Status)
	require.JSONEq(t, `["stage 1: false"]`, string(st.Output))
	before, err := e.History(ctx, st.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := e.RecoverInFlight(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "sweep %d", i+1)
	}

	after, err := e.History(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestRecoverInFlightReconcilesCrashWindows(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemoryPersistence()
	e := newTestEngine(t, Config{Persistence: p})
	now := time.Now().UTC()

	// Crash after the terminal event but before the projection update.
	finished := &api.Instance{ID: "finished", Name: gatedName, Status: api.StatusRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, p.Instances.SaveInstance(ctx, finished))
	_, err := p.History.AppendEvent(ctx, api.ExecutionStarted("finished", gatedName, nil))
	require.NoError(t, err)
	_, err = p.History.AppendEvent(ctx, api.ExecutionCompleted("finished", json.RawMessage(`["done"]`)))
	require.NoError(t, err)

	// Crash after saving the instance but before ExecutionStarted.
	orphan := &api.Instance{ID: "orphan", Name: gatedName, Status: api.StatusPending, Input: json.RawMessage(`null`), CreatedAt: now.Add(time.Millisecond), UpdatedAt: now}
	require.NoError(t, p.Instances.SaveInstance(ctx, orphan))

	n, err := e.RecoverInFlight(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := e.Status(ctx, "finished")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, st.Status)
	assert.JSONEq(t, `["done"]`, string(st.Output))

	st, err = e.Status(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, st.Status)
	hist, err := e.History(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, api.EventExecutionStarted, hist[0].Type)
}

func TestAdvanceAndActivitySpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := newTestEngine(t, Config{TracerProvider: tp})

	_, err := e.Run(context.Background(), gatedName, nil)
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 4, names["pedidoflow.advance"])
	assert.Equal(t, 3, names["pedidoflow.activity.execute"])
}

func drain(t *testing.T, q taskqueue.Queue) []taskqueue.Task {
	t.Helper()
	var out []taskqueue.Task
	for q.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		task, err := q.Dequeue(ctx)
		cancel()
		require.NoError(t, err)
		out = append(out, *task)
	}
	return out
}
