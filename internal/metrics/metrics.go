// Package metrics exposes ingestion counters and run timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/leadtool/internal/model"
)

const namespace = "leadtool"

// Metrics records engine outcomes on a private registry. It satisfies
// ingest.Observer.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastRun       *prometheus.GaugeVec
	lastCompleted prometheus.Gauge
}

// New builds Metrics with Go runtime and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Records handled by the ingestion engine by kind and outcome.",
		}, []string{"kind", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Finished ingestion runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_run_records",
			Help:      "Per-bucket record counts of the most recent run.",
		}, []string{"bucket"}),
		lastCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix time the last completed run finished.",
		}),
	}
	reg.MustRegister(
		m.records, m.runs, m.runDuration, m.lastRun, m.lastCompleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRecord counts one record outcome.
func (m *Metrics) ObserveRecord(kind model.Kind, outcome string) {
	m.records.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(r *model.RunReport, d time.Duration) {
	if r.Maintenance() {
		return
	}
	m.runs.WithLabelValues(string(r.Status)).Inc()
	m.runDuration.Observe(d.Seconds())

	for bucket, v := range map[string]int64{
		"created":            r.Created,
		"merged":             r.Merged,
		"skipped_validation": r.SkippedValidation,
		"skipped_orphan":     r.SkippedOrphan,
		"skipped_transient":  r.SkippedTransient,
		"abandoned":          r.Abandoned,
		"snapshots":          r.SnapshotsWritten,
		"deactivated":        r.Deactivated,
		"purged":             r.Purged,
	} {
		m.lastRun.WithLabelValues(bucket).Set(float64(v))
	}
	if r.Status == model.RunStatusCompleted {
		m.lastCompleted.Set(float64(r.FinishedAt.Unix()))
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
