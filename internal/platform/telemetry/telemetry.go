// Package telemetry exposes Prometheus metrics for section fetches, retries
// and timeline aggregation. All methods are safe on a nil *Metrics, which
// records nothing.
package telemetry

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patient_history"

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry       *prometheus.Registry
	fetchTotal     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	rebinds        prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Fetches issued against the legacy server by section and outcome.",
	}, []string{"section", "outcome"})
	m.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of legacy server fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"section"})
	m.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_scheduled_total",
		Help:      "Automatic retries scheduled after a retryable failure.",
	}, []string{"section", "kind"})
	m.failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "terminal_failures_total",
		Help:      "Fetches that ended in a terminal error state.",
	}, []string{"section", "kind"})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timeline_events_total",
		Help:      "Timeline events produced by normalisation, by event type.",
	}, []string{"type"})
	m.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timeline_source_failures_total",
		Help:      "Timeline sources that failed to fetch or normalise.",
	}, []string{"source", "stage"})
	m.rebinds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "patient_rebinds_total",
		Help:      "Patient identity changes observed by the application.",
	})

	m.registry.MustRegister(
		m.fetchTotal, m.fetchDuration, m.retriesTotal, m.failuresTotal,
		m.eventsTotal, m.sourceFailures, m.rebinds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ObserveFetch records one fetch attempt. outcome is "success" or "failure".
func (m *Metrics) ObserveFetch(section, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(section, outcome).Inc()
	m.fetchDuration.WithLabelValues(section).Observe(d.Seconds())
}

func (m *Metrics) RetryScheduled(section, kind string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(section, kind).Inc()
}

func (m *Metrics) TerminalFailure(section, kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(section, kind).Inc()
}

func (m *Metrics) EventsNormalized(eventType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Add(float64(n))
}

// SourceFailed records a timeline source failure; stage is "fetch" or "normalize".
func (m *Metrics) SourceFailed(source, stage string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source, stage).Inc()
}

func (m *Metrics) PatientRebound() {
	if m == nil {
		return
	}
	m.rebinds.Inc()
}
