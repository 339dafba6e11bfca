package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
//
// Every Record/Set method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SubscribersActive prometheus.Gauge
	SessionsRestored  prometheus.Counter
	SnapshotSaves     *prometheus.CounterVec
	SessionErrors     *prometheus.CounterVec

	// Stream metrics
	StreamTransitions *prometheus.CounterVec
	StreamReconnects  prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	DuplicatesDropped prometheus.Counter

	// Kernel control metrics
	ControlCalls    *prometheus.CounterVec
	ControlDuration *prometheus.HistogramVec

	// WebSocket relay metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveSubscribers int64   `json:"active_subscribers"`
	ActiveConnections int64   `json:"active_connections"`
	Reconnects        int64   `json:"reconnects"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a new metrics collector registered on reg. A nil reg
// gets a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execstream_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execstream_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execstream_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "execstream_sessions_active",
				Help: "Number of live kernel sessions in the registry",
			},
		),
		SubscribersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "execstream_subscribers_active",
				Help: "Number of live subscriber handles",
			},
		),
		SessionsRestored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "execstream_sessions_restored_total",
				Help: "Total number of sessions seeded from a persisted snapshot",
			},
		),
		SnapshotSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_snapshot_saves_total",
				Help: "Total number of snapshot writes",
			},
			[]string{"result"},
		),
		SessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_session_errors_total",
				Help: "Total number of errors surfaced to subscribers",
			},
			[]string{"kind"},
		),

		// Stream metrics
		StreamTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_stream_transitions_total",
				Help: "Total number of stream connection state transitions",
			},
			[]string{"from", "to"},
		),
		StreamReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "execstream_stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
		),
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_frames_received_total",
				Help: "Total number of stream frames received",
			},
			[]string{"kind"},
		),
		DuplicatesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "execstream_duplicates_dropped_total",
				Help: "Total number of redelivered messages dropped by the cache",
			},
		),

		// Kernel control metrics
		ControlCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_control_calls_total",
				Help: "Total number of kernel control calls",
			},
			[]string{"protocol", "method", "status"},
		),
		ControlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "execstream_control_duration_seconds",
				Help:    "Kernel control call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"protocol", "method"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "execstream_ws_connections",
				Help: "Number of active WebSocket relay connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execstream_ws_messages_total",
				Help: "Total number of WebSocket relay messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "execstream_uptime_seconds",
			Help: "Gateway uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordControlCall records a kernel control call
func (m *Metrics) RecordControlCall(protocol, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ControlCalls.WithLabelValues(protocol, method, status).Inc()
	m.ControlDuration.WithLabelValues(protocol, method).Observe(duration.Seconds())
}

// RecordTransition records a stream state transition
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StreamTransitions.WithLabelValues(from, to).Inc()
}

// RecordReconnect records a reconnect attempt
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.StreamReconnects.Inc()
	m.mu.Lock()
	m.snapshot.Reconnects++
	m.mu.Unlock()
}

// RecordFrame records a received frame and how many of its messages were redeliveries
func (m *Metrics) RecordFrame(kind string, duplicates int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
	if duplicates > 0 {
		m.DuplicatesDropped.Add(float64(duplicates))
	}
}

// RecordSessionError records an error surfaced to subscribers
func (m *Metrics) RecordSessionError(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

// RecordSnapshotSave records a snapshot write
func (m *Metrics) RecordSnapshotSave(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SnapshotSaves.WithLabelValues(result).Inc()
}

// IncSessionsRestored increments the sessions restored counter
func (m *Metrics) IncSessionsRestored() {
	if m == nil {
		return
	}
	m.SessionsRestored.Inc()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// SetSubscribersActive sets the number of live subscriber handles
func (m *Metrics) SetSubscribersActive(count int) {
	if m == nil {
		return
	}
	m.SubscribersActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSubscribers = int64(count)
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON health endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AvgDurationMs = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
