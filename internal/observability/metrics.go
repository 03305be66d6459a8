package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunsActive   prometheus.Gauge
	RunDuration  *prometheus.HistogramVec
	RunsByStatus *prometheus.GaugeVec

	// Stage metrics
	StagesTotal   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Publish metrics
	PublishesTotal  *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	QueueLatency  *prometheus.HistogramVec
	WorkersActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "deploy_engine"
	}

	m := &Metrics{
		// Run metrics
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs executed",
			},
			[]string{"outcome", "action", "registry"},
		),
		RunsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of pipeline runs currently executing",
			},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time taken for complete pipeline runs",
				Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
			},
			[]string{"action", "outcome"},
		),
		RunsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_by_status",
				Help:      "Number of runs by status",
			},
			[]string{"status"},
		),

		// Stage metrics
		StagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_total",
				Help:      "Total number of pipeline stages executed",
			},
			[]string{"stage", "status"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time taken for individual pipeline stages",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"stage", "status"},
		),

		// Publish metrics
		PublishesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_total",
				Help:      "Total number of image publish operations",
			},
			[]string{"registry", "status"},
		),
		PublishDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Time taken to push images to a registry",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"registry", "status"},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		// Queue metrics
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of runs waiting in the queue",
			},
			[]string{"queue"},
		),
		QueueLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_latency_seconds",
				Help:      "Time runs spend waiting in the queue",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"queue"},
		),
		WorkersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_active",
				Help:      "Number of active worker goroutines",
			},
		),
	}

	return m
}

// RecordRun records a completed pipeline run
func (m *Metrics) RecordRun(outcome, action, registry string) {
	m.RunsTotal.WithLabelValues(outcome, action, registry).Inc()
}

// RecordRunDuration records the duration of a complete run
func (m *Metrics) RecordRunDuration(action, outcome string, seconds float64) {
	m.RunDuration.WithLabelValues(action, outcome).Observe(seconds)
}

// IncActiveRuns increments the number of executing runs
func (m *Metrics) IncActiveRuns() {
	m.RunsActive.Inc()
}

// DecActiveRuns decrements the number of executing runs
func (m *Metrics) DecActiveRuns() {
	m.RunsActive.Dec()
}

// SetRunsByStatus sets the count for a specific run status
func (m *Metrics) SetRunsByStatus(status string, count float64) {
	m.RunsByStatus.WithLabelValues(status).Set(count)
}

// RecordStage records a completed pipeline stage
func (m *Metrics) RecordStage(stage, status string) {
	m.StagesTotal.WithLabelValues(stage, status).Inc()
}

// RecordStageDuration records the duration of a pipeline stage
func (m *Metrics) RecordStageDuration(stage, status string, seconds float64) {
	m.StageDuration.WithLabelValues(stage, status).Observe(seconds)
}

// RecordPublish records an image publish operation
func (m *Metrics) RecordPublish(registry, status string) {
	m.PublishesTotal.WithLabelValues(registry, status).Inc()
}

// RecordPublishDuration records image push duration
func (m *Metrics) RecordPublishDuration(registry, status string, seconds float64) {
	m.PublishDuration.WithLabelValues(registry, status).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration
func (m *Metrics) RecordHTTPRequestDuration(method, path string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// IncHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// SetQueueDepth sets the queue depth for a specific queue
func (m *Metrics) SetQueueDepth(queue string, depth float64) {
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordQueueLatency records how long a run waited in the queue
func (m *Metrics) RecordQueueLatency(queue string, seconds float64) {
	m.QueueLatency.WithLabelValues(queue).Observe(seconds)
}

// SetWorkersActive sets the number of active workers
func (m *Metrics) SetWorkersActive(count float64) {
	m.WorkersActive.Set(count)
}

// Global metrics instance
var DefaultMetrics = NewMetrics("")
