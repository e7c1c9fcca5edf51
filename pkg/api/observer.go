package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine and the dispatcher for
// logging, metrics and event publishing.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay replay or activity execution.
type Observer interface {
	// OnInstanceStarted is called once when an instance moves to RUNNING.
	OnInstanceStarted(ctx context.Context, inst *InstanceStatus)

	// OnInstanceCompleted is called when an instance reaches COMPLETED.
	OnInstanceCompleted(ctx context.Context, inst *InstanceStatus)

	// OnInstanceFailed is called when an instance reaches FAILED.
	OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error)

	// OnInstanceStopped is called when the orchestrator stops advancing
	// without failing.
	OnInstanceStopped(ctx context.Context, inst *InstanceStatus)

	// OnInstanceTerminated is called when Terminate finalizes an instance.
	OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, reason string)

	// OnActivityScheduled is called after a TaskScheduled event is durable.
	OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string)

	// OnActivityCompleted is called after an activity function returns, for
	// both successes and failures (err != nil).
	OnActivityCompleted(ctx context.Context, task ActivityTask, err error, duration time.Duration)

	// OnEventAppended is called for every event written to a history.
	OnEventAppended(ctx context.Context, ev HistoryEvent)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *InstanceStatus)             {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *InstanceStatus)           {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error)   {}
func (NoopObserver) OnInstanceStopped(ctx context.Context, inst *InstanceStatus)             {}
func (NoopObserver) OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, r string) {}
func (NoopObserver) OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string) {
}
func (NoopObserver) OnActivityCompleted(ctx context.Context, task ActivityTask, err error, d time.Duration) {
}
func (NoopObserver) OnEventAppended(ctx context.Context, ev HistoryEvent) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *InstanceStatus) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *InstanceStatus) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnInstanceStopped(ctx context.Context, inst *InstanceStatus) {
	for _, o := range c.observers {
		o.OnInstanceStopped(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, reason string) {
	for _, o := range c.observers {
		o.OnInstanceTerminated(ctx, inst, reason)
	}
}

func (c *CompositeObserver) OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string) {
	for _, o := range c.observers {
		o.OnActivityScheduled(ctx, instanceID, taskID, name)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, task ActivityTask, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, task, err, d)
	}
}

func (c *CompositeObserver) OnEventAppended(ctx context.Context, ev HistoryEvent) {
	for _, o := range c.observers {
		o.OnEventAppended(ctx, ev)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / activity
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *InstanceStatus) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("orchestrator", inst.Name),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *InstanceStatus) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("orchestrator", inst.Name),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("orchestrator", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnInstanceStopped(ctx context.Context, inst *InstanceStatus) {
	o.Logger.InfoContext(ctx, "instance_stopped",
		slog.String("orchestrator", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.String("custom_status", inst.CustomStatus),
	)
}

func (o *LoggingObserver) OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, reason string) {
	o.Logger.WarnContext(ctx, "instance_terminated",
		slog.String("orchestrator", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string) {
	o.Logger.DebugContext(ctx, "activity_scheduled",
		slog.String("instance_id", instanceID),
		slog.Int("task_id", taskID),
		slog.String("activity", name),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, task ActivityTask, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_id", task.InstanceID),
		slog.Int("task_id", task.TaskID),
		slog.String("activity", task.Name),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventAppended(ctx context.Context, ev HistoryEvent) {}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted    atomic.Int64
	instancesCompleted  atomic.Int64
	instancesFailed     atomic.Int64
	instancesStopped    atomic.Int64
	instancesTerminated atomic.Int64
	activitiesScheduled atomic.Int64
	activitiesCompleted atomic.Int64
	activitiesFailed    atomic.Int64
	totalActivityTime   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted    int64
	InstancesCompleted  int64
	InstancesFailed     int64
	InstancesStopped    int64
	InstancesTerminated int64

	ActivitiesScheduled int64
	ActivitiesCompleted int64
	ActivitiesFailed    int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *InstanceStatus) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *InstanceStatus) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *InstanceStatus, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnInstanceStopped(ctx context.Context, inst *InstanceStatus) {
	m.instancesStopped.Add(1)
}

func (m *BasicMetrics) OnInstanceTerminated(ctx context.Context, inst *InstanceStatus, reason string) {
	m.instancesTerminated.Add(1)
}

func (m *BasicMetrics) OnActivityScheduled(ctx context.Context, instanceID string, taskID int, name string) {
	m.activitiesScheduled.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, task ActivityTask, err error, d time.Duration) {
	if err != nil {
		m.activitiesFailed.Add(1)
		return
	}
	// Only successful activities count towards the average duration.
	m.activitiesCompleted.Add(1)
	m.totalActivityTime.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	completed := m.activitiesCompleted.Load()
	totalNs := m.totalActivityTime.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalNs / completed)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:    m.instancesStarted.Load(),
		InstancesCompleted:  m.instancesCompleted.Load(),
		InstancesFailed:     m.instancesFailed.Load(),
		InstancesStopped:    m.instancesStopped.Load(),
		InstancesTerminated: m.instancesTerminated.Load(),
		ActivitiesScheduled: m.activitiesScheduled.Load(),
		ActivitiesCompleted: completed,
		ActivitiesFailed:    m.activitiesFailed.Load(),
		AvgActivityDuration: avg,
	}
}
