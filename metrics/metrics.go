// Package metrics defines the Prometheus collectors this system exposes at GET /metrics,
// per SPEC_FULL.md §6's expansion: previews_total{status}, orchestrator_transitions_total
// {transition,result}, reconciler_tick_duration_seconds, reconciler_task_failures_total
// {task}. no example repo in the corpus wires up prometheus/client_golang itself, but the
// teacher's own dependency-injection convention (a small struct of collaborators, passed
// by constructor, never a package-level global) is reused here for the metrics recorder
// so the orchestrator and reconciler take it the same way they take a logger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/previewd/previewd/models"
)

// Recorder wraps the collectors the orchestrator and reconciler update as they run.
// Registry is exposed so main.go can hand it to promhttp.HandlerFor, keeping every
// collector on a private registry rather than the global default one -- the same
// isolation the teacher's own config/logging layer favors (explicit dependencies over
// package-level state).
type Recorder struct {
	Registry *prometheus.Registry

	previewsTotal           *prometheus.GaugeVec
	transitionsTotal        *prometheus.CounterVec
	tickDuration            prometheus.Histogram
	reconcilerTaskFailures  *prometheus.CounterVec
}

// New constructs a Recorder with a fresh, private registry and registers every collector
// on it.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		Registry: registry,
		previewsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "previews_total",
			Help: "Current number of previews, partitioned by lifecycle status.",
		}, []string{"status"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_transitions_total",
			Help: "Count of orchestrator lifecycle transitions, partitioned by transition and result.",
		}, []string{"transition", "result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_tick_duration_seconds",
			Help:    "Wall-clock duration of a full reconciler tick (all tasks).",
			Buckets: prometheus.DefBuckets,
		}),
		reconcilerTaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_task_failures_total",
			Help: "Count of reconciler task failures, partitioned by task name.",
		}, []string{"task"}),
	}

	registry.MustRegister(r.previewsTotal, r.transitionsTotal, r.tickDuration, r.reconcilerTaskFailures)
	return r
}

// RecordTransition increments the transition counter for one orchestrator state change,
// eg RecordTransition("create", "success") or RecordTransition("destroy", "error").
func (r *Recorder) RecordTransition(transition, result string) {
	r.transitionsTotal.WithLabelValues(transition, result).Inc()
}

// ObserveTickDuration records how long one full reconciler tick took.
func (r *Recorder) ObserveTickDuration(d time.Duration) {
	r.tickDuration.Observe(d.Seconds())
}

// RecordTaskFailure increments the failure counter for a named reconciler task.
func (r *Recorder) RecordTaskFailure(task string) {
	r.reconcilerTaskFailures.WithLabelValues(task).Inc()
}

// RefreshPreviewCounts resets and repopulates the previews_total gauge from a fresh count
// per status, called once per reconciler tick. resetting first means a status that drops
// to zero previews is reported as 0, not left stale at its last nonzero value.
func (r *Recorder) RefreshPreviewCounts(counts map[models.PreviewStatus]int) {
	r.previewsTotal.Reset()
	for status, count := range counts {
		r.previewsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
