// Package metrics holds the Prometheus collectors updated by the stage
// executor and workflow manager.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaflow"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
	syncFields    *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	reclaimed     prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage executions by terminal status.",
		}, []string{"stage", "status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Worker wall time per stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"stage"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Stage cache lookups by result (hit, miss, inconsistent).",
		}, []string{"stage", "result"}),
		lockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the exclusive resource lock.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"resource", "outcome"}),
		syncFields: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_sync_fields_total",
			Help:      "Artifact fields processed by sync, by outcome.",
		}, []string{"stage", "outcome"}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callback deliveries by outcome.",
		}, []string{"outcome"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently owned by this daemon.",
		}),
		reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_stages_reclaimed_total",
			Help:      "Running stages failed after their heartbeat expired.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) StageFinished(stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, status).Inc()
	if elapsed > 0 {
		m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// Cache result labels.
const (
	CacheHit          = "hit"
	CacheMiss         = "miss"
	CacheInconsistent = "inconsistent"
)

func (m *Metrics) CacheLookup(stage, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) LockWait(resource, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource, outcome).Observe(waited.Seconds())
}

func (m *Metrics) SyncFields(stage string, uploaded, skipped, failed int) {
	if m == nil {
		return
	}
	m.syncFields.WithLabelValues(stage, "uploaded").Add(float64(uploaded))
	m.syncFields.WithLabelValues(stage, "skipped").Add(float64(skipped))
	m.syncFields.WithLabelValues(stage, "failed").Add(float64(failed))
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobStarted() {
	if m != nil {
		m.activeJobs.Inc()
	}
}

func (m *Metrics) JobFinished() {
	if m != nil {
		m.activeJobs.Dec()
	}
}

func (m *Metrics) StagesReclaimed(n int) {
	if m != nil && n > 0 {
		m.reclaimed.Add(float64(n))
	}
}
