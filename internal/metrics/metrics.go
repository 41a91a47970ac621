// Package metrics exposes Prometheus collectors for dispatch runs, the
// event bus, and the stub target's HTTP surface.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sentiment"

// Metrics holds all application metrics. Each instance owns its registry,
// so several instances (one per test, say) never collide.
type Metrics struct {
	// Dispatcher metrics
	RequestsTotal    *prometheus.CounterVec // labels: result, code
	RequestLatency   prometheus.Histogram   // milliseconds
	RequestsInFlight prometheus.Gauge
	PeakInFlight     prometheus.Gauge

	// Batch and run metrics, fed from bus events
	BatchesTotal  prometheus.Counter
	BatchDuration prometheus.Histogram // seconds
	BatchFailures prometheus.Histogram // failed requests per batch
	RunsTotal     *prometheus.CounterVec // labels: status
	RunDuration   prometheus.Gauge       // seconds, last run
	ReportsTotal  prometheus.Counter

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic

	// HTTP metrics (stub target)
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
	HTTPPeakInFlight     prometheus.Gauge

	registry *prometheus.Registry

	inflight     atomic.Int64
	peak         atomic.Int64
	httpInflight atomic.Int64
	httpPeak     atomic.Int64
}

// New creates a metrics instance with all collectors registered on a fresh
// registry, together with the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "requests_total",
				Help:      "Total number of dispatched requests by result",
			},
			[]string{"result", "code"},
		),
		RequestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "request_latency_ms",
				Help:      "Request latency in milliseconds, dispatch to full response read",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "requests_in_flight",
				Help:      "Requests currently awaiting a response",
			},
		),
		PeakInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "requests_in_flight_peak",
				Help:      "Highest number of requests observed in flight",
			},
		),
		BatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "batches_total",
				Help:      "Total number of completed batches",
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "batch_duration_seconds",
				Help:      "Wall time of one batch, first dispatch to barrier",
				Buckets:   prometheus.DefBuckets,
			},
		),
		BatchFailures: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "batch_failed_requests",
				Help:      "Failed requests per batch",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "runs_total",
				Help:      "Total number of dispatch runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "loadsim",
				Name:      "last_run_duration_seconds",
				Help:      "Wall time of the most recent run",
			},
		),
		ReportsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "reports_total",
				Help:      "Total number of generated latency reports",
			},
		),
		BusEventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Total number of events published to the bus",
			},
			[]string{"topic"},
		),
		BusEventLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "publish_latency_ms",
				Help:      "Bus publish latency in milliseconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
			},
			[]string{"topic"},
		),
		BusErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "errors_total",
				Help:      "Total number of failed bus publishes",
			},
			[]string{"topic"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "HTTP requests currently being served",
			},
		),
		HTTPPeakInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight_peak",
				Help:      "Highest number of concurrently served HTTP requests",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestLatency,
		m.RequestsInFlight,
		m.PeakInFlight,
		m.BatchesTotal,
		m.BatchDuration,
		m.BatchFailures,
		m.RunsTotal,
		m.RunDuration,
		m.ReportsTotal,
		m.BusEventsPublished,
		m.BusEventLatency,
		m.BusErrors,
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPRequestsInFlight,
		m.HTTPPeakInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding every collector of m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestStarted marks one request as in flight.
func (m *Metrics) RequestStarted() {
	n := m.inflight.Add(1)
	m.RequestsInFlight.Set(float64(n))
	if raisePeak(&m.peak, n) {
		m.PeakInFlight.Set(float64(n))
	}
}

// RequestFinished records a resolved request. code is empty on success.
func (m *Metrics) RequestFinished(result, code string, latency time.Duration) {
	n := m.inflight.Add(-1)
	m.RequestsInFlight.Set(float64(n))

	m.RequestsTotal.WithLabelValues(result, code).Inc()
	m.RequestLatency.Observe(float64(latency.Microseconds()) / 1000)
}

// InFlight returns the number of requests currently in flight.
func (m *Metrics) InFlight() int64 {
	return m.inflight.Load()
}

// MaxInFlight returns the highest in-flight count seen so far.
func (m *Metrics) MaxInFlight() int64 {
	return m.peak.Load()
}

// HTTPMaxInFlight returns the highest number of concurrently served
// HTTP requests seen by HTTPMiddleware.
func (m *Metrics) HTTPMaxInFlight() int64 {
	return m.httpPeak.Load()
}

// RecordBatch records one completed batch.
func (m *Metrics) RecordBatch(duration time.Duration, failed int) {
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.BatchFailures.Observe(float64(failed))
}

// RecordRun records the end of a dispatch run.
func (m *Metrics) RecordRun(duration time.Duration, canceled bool) {
	status := "completed"
	if canceled {
		status = "canceled"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Set(duration.Seconds())
}

// RecordBusPublish records a bus publish. It satisfies bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(float64(latency.Microseconds()) / 1000)
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordHTTP records one served HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, seconds float64) {
	path = routeLabel(path)
	m.HTTPRequests.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) httpStarted() {
	n := m.httpInflight.Add(1)
	m.HTTPRequestsInFlight.Set(float64(n))
	if raisePeak(&m.httpPeak, n) {
		m.HTTPPeakInFlight.Set(float64(n))
	}
}

func (m *Metrics) httpFinished() {
	m.HTTPRequestsInFlight.Set(float64(m.httpInflight.Add(-1)))
}

// raisePeak stores n in peak if it is a new maximum.
func raisePeak(peak *atomic.Int64, n int64) bool {
	for {
		cur := peak.Load()
		if n <= cur {
			return false
		}
		if peak.CompareAndSwap(cur, n) {
			return true
		}
	}
}
