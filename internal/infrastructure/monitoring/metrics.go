package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Sandbox metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	MockedCalls       prometheus.Counter
	UndefinedFound    prometheus.Counter
	ModuleLoads       *prometheus.CounterVec
	ModuleLoadTime    prometheus.Histogram
	Resets            prometheus.Counter
	PoolInUse         prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	registry *prometheus.Registry

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the status API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	Executions        int64   `json:"executions"`
	FailedExecutions  int64   `json:"failedExecutions"`
	TimedOut          int64   `json:"timedOut"`
	UndefinedFound    int64   `json:"undefinedFound"`
	ActiveConnections int64   `json:"activeConnections"`
	TotalDuration     float64 `json:"-"` // sum of all request durations
	RequestCount      int64   `json:"-"` // count for averaging
	AvgRequestSeconds float64 `json:"avgRequestSeconds"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector on its own registry, so several
// collectors can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envsandbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envsandbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envsandbox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envsandbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Sandbox metrics
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envsandbox_executions_total",
				Help: "Total number of sandbox executions by outcome",
			},
			[]string{"status"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "envsandbox_execution_duration_seconds",
				Help:    "Sandbox execution duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		MockedCalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "envsandbox_mocked_calls_total",
				Help: "Total number of intercepted calls answered by a mock",
			},
		),
		UndefinedFound: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "envsandbox_undefined_paths_total",
				Help: "Total number of distinct undefined paths discovered",
			},
		),
		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envsandbox_module_loads_total",
				Help: "Total number of environment module loads by outcome",
			},
			[]string{"status"},
		),
		ModuleLoadTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "envsandbox_module_load_duration_seconds",
				Help:    "Environment module load duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		Resets: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "envsandbox_resets_total",
				Help: "Total number of sandbox resets",
			},
		),
		PoolInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "envsandbox_pool_in_use",
				Help: "Number of pooled sandboxes currently checked out",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "envsandbox_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envsandbox_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "envsandbox_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordExecution records one sandbox run. status is success, error or
// timeout.
func (m *Metrics) RecordExecution(status string, duration time.Duration, mocked int) {
	m.Executions.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
	if mocked > 0 {
		m.MockedCalls.Add(float64(mocked))
	}

	m.mu.Lock()
	m.snapshot.Executions++
	switch status {
	case StatusError:
		m.snapshot.FailedExecutions++
	case StatusTimeout:
		m.snapshot.FailedExecutions++
		m.snapshot.TimedOut++
	}
	m.mu.Unlock()
}

// RecordModuleLoad records one environment module load. status is success,
// error or skipped.
func (m *Metrics) RecordModuleLoad(status string, duration time.Duration) {
	m.ModuleLoads.WithLabelValues(status).Inc()
	m.ModuleLoadTime.Observe(duration.Seconds())
}

// IncUndefined counts a newly discovered undefined path.
func (m *Metrics) IncUndefined() {
	m.UndefinedFound.Inc()
	m.mu.Lock()
	m.snapshot.UndefinedFound++
	m.mu.Unlock()
}

// IncResets counts a sandbox reset.
func (m *Metrics) IncResets() {
	m.Resets.Inc()
}

// SetPoolInUse sets the number of pooled sandboxes checked out.
func (m *Metrics) SetPoolInUse(n int) {
	m.PoolInUse.Set(float64(n))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the current counters for the status API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.RequestCount > 0 {
		s.AvgRequestSeconds = s.TotalDuration / float64(s.RequestCount)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
