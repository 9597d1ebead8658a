// Package prom exports runtime lifecycle events as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/google/duet"
)

// Observer implements duet.Observer on top of a Prometheus registry.
// All collectors are registered at construction; a single Observer may be
// shared between independent runs.
type Observer struct {
	runsActive    prometheus.Gauge
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	tasksSpawned  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	scopesOpened  prometheus.Counter
	scopesCancel  prometheus.Counter
	joinWait      prometheus.Histogram
}

// New registers the runtime collectors with reg and returns the observer.
// It panics on registration conflict, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duet",
			Name:      "runs_active",
			Help:      "Schedulers currently driving a task tree.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet",
			Name:      "runs_total",
			Help:      "Completed runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duet",
			Name:      "run_duration_seconds",
			Help:      "Wall time per run.",
			Buckets:   prometheus.DefBuckets,
		}),
		tasksSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duet",
			Name:      "tasks_spawned_total",
			Help:      "Tasks enqueued, roots included.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duet",
			Name:      "tasks_finished_total",
			Help:      "Tasks reaching a terminal state, by state.",
		}, []string{"state"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duet",
			Name:      "task_duration_seconds",
			Help:      "Time from task start to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}),
		scopesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duet",
			Name:      "scopes_opened_total",
			Help:      "Scope blocks entered.",
		}),
		scopesCancel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duet",
			Name:      "scopes_cancelled_total",
			Help:      "Scopes cancelled before closing normally.",
		}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duet",
			Name:      "scope_join_wait_seconds",
			Help:      "Time a scope spent waiting for its tasks at close.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		o.runsActive, o.runsTotal, o.runDuration,
		o.tasksSpawned, o.tasksFinished, o.taskDuration,
		o.scopesOpened, o.scopesCancel, o.joinWait,
	)
	return o
}

func (o *Observer) RunStarted(int) {
	o.runsActive.Inc()
}

func (o *Observer) RunFinished(d time.Duration, err error) {
	o.runsActive.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.runsTotal.WithLabelValues(result).Inc()
	o.runDuration.Observe(d.Seconds())
}

func (o *Observer) TaskSpawned() {
	o.tasksSpawned.Inc()
}

func (o *Observer) TaskFinished(state duet.TaskState, d time.Duration) {
	o.tasksFinished.WithLabelValues(state.String()).Inc()
	o.taskDuration.Observe(d.Seconds())
}

func (o *Observer) ScopeOpened() {
	o.scopesOpened.Inc()
}

func (o *Observer) ScopeCancelled(error) {
	o.scopesCancel.Inc()
}

func (o *Observer) ScopeClosed(wait time.Duration) {
	o.joinWait.Observe(wait.Seconds())
}

var _ duet.Observer = (*Observer)(nil)
