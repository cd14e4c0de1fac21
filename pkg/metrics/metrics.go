package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket signaling metrics
	signalingConnections   prometheus.Gauge
	signalingMessagesTotal *prometheus.CounterVec
	signalingErrorsTotal   *prometheus.CounterVec

	// Call metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		signalingConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_connections",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		signalingMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_total",
				Help:        "Total signaling messages routed, by message type",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		signalingErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_errors_total",
				Help:        "Total signaling errors, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total calls, by type and terminal status",
				ConstLabels: labels,
			},
			[]string{"call_type", "status"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls currently in progress",
				ConstLabels: labels,
			},
		),
		callsDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of completed calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// SignalingConnectionOpened increments the signaling connection gauge
func (m *Metrics) SignalingConnectionOpened() { m.signalingConnections.Inc() }

// SignalingConnectionClosed decrements the signaling connection gauge
func (m *Metrics) SignalingConnectionClosed() { m.signalingConnections.Dec() }

// RecordSignalingMessage counts one routed signaling message
func (m *Metrics) RecordSignalingMessage(msgType, direction string) {
	m.signalingMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordSignalingError counts one signaling error
func (m *Metrics) RecordSignalingError(kind string) {
	m.signalingErrorsTotal.WithLabelValues(kind).Inc()
}

// CallStarted marks a call as in progress
func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallFinished records a completed call with its terminal status
func (m *Metrics) CallFinished(callType, status string, duration time.Duration) {
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(callType, status).Inc()
	if duration > 0 {
		m.callsDuration.Observe(duration.Seconds())
	}
}
