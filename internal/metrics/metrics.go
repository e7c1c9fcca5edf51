// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/pedidoflow/pkg/api"
)

const defaultNamespace = "pedidoflow"

// Observer is an api.Observer that records instance and activity
// lifecycle counters on a Prometheus registerer.
type Observer struct {
	instances        *prometheus.CounterVec
	activities       *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	scheduled        *prometheus.CounterVec
	events           *prometheus.CounterVec
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates the collectors under namespace (default "pedidoflow")
// and registers them on reg.
func NewObserver(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	o := &Observer{
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Instance lifecycle transitions by orchestrator and outcome.",
		}, []string{"orchestrator", "outcome"}),
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_total",
			Help:      "Activity executions by activity and result.",
		}, []string{"activity", "result"}),
		activityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Activity execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity"}),
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_scheduled_total",
			Help:      "TaskScheduled events recorded by activity.",
		}, []string{"activity"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_events_total",
			Help:      "History events appended by type.",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		o.instances, o.activities, o.activityDuration, o.scheduled, o.events,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) OnInstanceStarted(_ context.Context, inst *api.InstanceStatus) {
	o.instances.WithLabelValues(inst.Name, "started").Inc()
}

func (o *Observer) OnInstanceCompleted(_ context.Context, inst *api.InstanceStatus) {
	o.instances.WithLabelValues(inst.Name, "completed").Inc()
}

func (o *Observer) OnInstanceFailed(_ context.Context, inst *api.InstanceStatus, _ error) {
	o.instances.WithLabelValues(inst.Name, "failed").Inc()
}

func (o *Observer) OnInstanceStopped(_ context.Context, inst *api.InstanceStatus) {
	o.instances.WithLabelValues(inst.Name, "stopped").Inc()
}

func (o *Observer) OnInstanceTerminated(_ context.Context, inst *api.InstanceStatus, _ string) {
	o.instances.WithLabelValues(inst.Name, "terminated").Inc()
}

func (o *Observer) OnActivityScheduled(_ context.Context, _ string, _ int, name string) {
	o.scheduled.WithLabelValues(name).Inc()
}

func (o *Observer) OnActivityCompleted(_ context.Context, task api.ActivityTask, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	o.activities.WithLabelValues(task.Name, result).Inc()
	o.activityDuration.WithLabelValues(task.Name).Observe(d.Seconds())
}

func (o *Observer) OnEventAppended(_ context.Context, ev api.HistoryEvent) {
	o.events.WithLabelValues(string(ev.Type)).Inc()
}
