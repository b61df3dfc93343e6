package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "uptime"

// Metrics is a prometheus.Collector for the check pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	checks             *prometheus.CounterVec
	incidentsOpened    prometheus.Counter
	incidentsResolved  *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	jobsDropped        prometheus.Counter
	staleJobs          prometheus.Counter
	probeDuration      prometheus.Histogram
	checksDeleted      prometheus.Counter
}

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "checks_total",
				Help:      "The number of recorded checks by result.",
			}, []string{"result"},
		),
		incidentsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "incidents_opened_total",
				Help:      "The number of incidents opened.",
			},
		),
		incidentsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "incidents_resolved_total",
				Help:      "The number of incidents resolved, by how they were resolved.",
			}, []string{"how"},
		),
		sideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "side_effect_failures_total",
				Help:      "The number of failed ticket and notification calls.",
			}, []string{"op"},
		),
		jobsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_dropped_total",
				Help:      "The number of claimed checks released because the job queue was full.",
			},
		),
		staleJobs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stale_jobs_total",
				Help:      "The number of queued checks dropped because their claim expired.",
			},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "probe_duration_seconds",
				Help:      "The time taken by probes, including timeouts.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		checksDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "checks_deleted_total",
				Help:      "The number of checks removed by retention cleanup.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.checks.Describe(ch)
	m.incidentsOpened.Describe(ch)
	m.incidentsResolved.Describe(ch)
	m.sideEffectFailures.Describe(ch)
	m.jobsDropped.Describe(ch)
	m.staleJobs.Describe(ch)
	m.probeDuration.Describe(ch)
	m.checksDeleted.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.checks.Collect(ch)
	m.incidentsOpened.Collect(ch)
	m.incidentsResolved.Collect(ch)
	m.sideEffectFailures.Collect(ch)
	m.jobsDropped.Collect(ch)
	m.staleJobs.Collect(ch)
	m.probeDuration.Collect(ch)
	m.checksDeleted.Collect(ch)
}

func (m *Metrics) checkRecorded(up bool) {
	if m == nil {
		return
	}
	result := "down"
	if up {
		result = "up"
	}
	m.checks.WithLabelValues(result).Inc()
}

func (m *Metrics) incidentOpened() {
	if m == nil {
		return
	}
	m.incidentsOpened.Inc()
}

func (m *Metrics) incidentResolved(how string) {
	if m == nil {
		return
	}
	m.incidentsResolved.WithLabelValues(how).Inc()
}

func (m *Metrics) sideEffectFailed(op string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) jobDropped() {
	if m == nil {
		return
	}
	m.jobsDropped.Inc()
}

func (m *Metrics) staleJobDropped() {
	if m == nil {
		return
	}
	m.staleJobs.Inc()
}

func (m *Metrics) probeObserved(seconds float64) {
	if m == nil {
		return
	}
	m.probeDuration.Observe(seconds)
}

func (m *Metrics) checksRemoved(n int64) {
	if m == nil {
		return
	}
	m.checksDeleted.Add(float64(n))
}
