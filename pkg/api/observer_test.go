package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver counts callbacks to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	starts      int
	completes   int
	fails       int
	stops       int
	terminates  int
	scheduled   int
	activities  int
	events      int
	lastFailErr error
	lastEvent   HistoryEvent
}

func (o *testObserver) OnInstanceStarted(ctx context.Context, inst *InstanceStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *testObserver) OnInstanceCompleted(ctx context.Context, inst *InstanceStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
}

func (o *testObserver) OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fails++
	o.lastFailErr = err
}

func (o *testObserver) OnInstanceStopped(ctx context.Context, inst *InstanceStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *testObserver) OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminates++
}

func (o *testObserver) OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled++
}

func (o *testObserver) OnActivityCompleted(ctx context.Context, task ActivityTask, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activities++
}

func (o *testObserver) OnEventAppended(ctx context.Context, ev HistoryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events++
	o.lastEvent = ev
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(name string) slog.Handler { return h }

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestStatus() *InstanceStatus {
	return &InstanceStatus{
		ID:           "inst-1",
		Name:         "pedido",
		Status:       StatusRunning,
		CustomStatus: "Pedido Criado",
	}
}

//
// CompositeObserver
//

func TestNewCompositeObserverCollapses(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for no observers")
	}
	if _, ok := NewCompositeObserver(nil, nil).(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for nil observers")
	}

	single := &testObserver{}
	if got := NewCompositeObserver(nil, single); got != Observer(single) {
		t.Fatalf("expected the single observer to be returned as is, got %T", got)
	}
}

func TestCompositeObserverFansOut(t *testing.T) {
	a, b := &testObserver{}, &testObserver{}
	obs := NewCompositeObserver(a, b)

	ctx := context.Background()
	inst := newTestStatus()
	failErr := errors.New("boom")

	obs.OnInstanceStarted(ctx, inst)
	obs.OnActivityScheduled(ctx, inst.ID, 1, "ProcessarEtapaPedido")
	obs.OnActivityCompleted(ctx, ActivityTask{InstanceID: inst.ID, TaskID: 1}, nil, time.Millisecond)
	obs.OnEventAppended(ctx, TaskCompleted(inst.ID, 1, []byte(`true`)))
	obs.OnInstanceStopped(ctx, inst)
	obs.OnInstanceCompleted(ctx, inst)
	obs.OnInstanceFailed(ctx, inst, failErr)
	obs.OnInstanceTerminated(ctx, inst, "manual")

	for i, o := range []*testObserver{a, b} {
		if o.starts != 1 || o.completes != 1 || o.fails != 1 || o.stops != 1 || o.terminates != 1 {
			t.Fatalf("observer %d: unexpected instance counts %+v", i, o)
		}
		if o.scheduled != 1 || o.activities != 1 || o.events != 1 {
			t.Fatalf("observer %d: unexpected activity counts %+v", i, o)
		}
		if !errors.Is(o.lastFailErr, failErr) {
			t.Fatalf("observer %d: fail error = %v", i, o.lastFailErr)
		}
		if o.lastEvent.Type != EventTaskCompleted || o.lastEvent.TaskID != 1 {
			t.Fatalf("observer %d: last event = %+v", i, o.lastEvent)
		}
	}
}

//
// LoggingObserver
//

func TestLoggingObserverWritesStructuredRecords(t *testing.T) {
	h := &recordingHandler{}
	obs := NewLoggingObserver(slog.New(h))

	ctx := context.Background()
	inst := newTestStatus()
	obs.OnInstanceStarted(ctx, inst)
	obs.OnActivityCompleted(ctx, ActivityTask{InstanceID: inst.ID, TaskID: 2, Name: "ProcessarEtapaPedido"}, errors.New("bad stage"), 5*time.Millisecond)
	obs.OnInstanceStopped(ctx, inst)

	if len(h.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(h.records))
	}

	started := h.records[0]
	if started.Message != "instance_started" {
		t.Fatalf("first message = %q", started.Message)
	}
	if got := attrsToMap(started)["instance_id"]; got != "inst-1" {
		t.Fatalf("instance_id = %v", got)
	}

	activity := h.records[1]
	if activity.Level != slog.LevelError {
		t.Fatalf("failed activity should log at error level, got %v", activity.Level)
	}
	attrs := attrsToMap(activity)
	if attrs["activity"] != "ProcessarEtapaPedido" || attrs["task_id"] != int64(2) {
		t.Fatalf("unexpected activity attrs %v", attrs)
	}

	stopped := h.records[2]
	if got := attrsToMap(stopped)["custom_status"]; got != "Pedido Criado" {
		t.Fatalf("custom_status = %v", got)
	}
}

func TestNewLoggingObserverDefaultsLogger(t *testing.T) {
	obs, ok := NewLoggingObserver(nil).(*LoggingObserver)
	if !ok || obs.Logger == nil {
		t.Fatalf("expected a LoggingObserver with the default logger")
	}
}

//
// BasicMetrics
//

func TestBasicMetricsSnapshot(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	inst := newTestStatus()

	m.OnInstanceStarted(ctx, inst)
	m.OnInstanceStarted(ctx, inst)
	m.OnInstanceCompleted(ctx, inst)
	m.OnInstanceStopped(ctx, inst)
	m.OnActivityScheduled(ctx, inst.ID, 1, "a")
	m.OnActivityScheduled(ctx, inst.ID, 2, "a")
	m.OnActivityScheduled(ctx, inst.ID, 3, "a")
	m.OnActivityCompleted(ctx, ActivityTask{}, nil, 10*time.Millisecond)
	m.OnActivityCompleted(ctx, ActivityTask{}, nil, 30*time.Millisecond)
	m.OnActivityCompleted(ctx, ActivityTask{}, errors.New("x"), time.Hour)

	s := m.Snapshot()
	if s.InstancesStarted != 2 || s.InstancesCompleted != 1 || s.InstancesStopped != 1 {
		t.Fatalf("unexpected instance counters %+v", s)
	}
	if s.ActivitiesScheduled != 3 || s.ActivitiesCompleted != 2 || s.ActivitiesFailed != 1 {
		t.Fatalf("unexpected activity counters %+v", s)
	}
	if s.AvgActivityDuration != 20*time.Millisecond {
		t.Fatalf("avg duration = %v, failures must not count", s.AvgActivityDuration)
	}
}

func TestBasicMetricsEmptySnapshot(t *testing.T) {
	var m BasicMetrics
	if s := m.Snapshot(); s.AvgActivityDuration != 0 || s.InstancesStarted != 0 {
		t.Fatalf("expected zero snapshot, got %+v", s)
	}
}
