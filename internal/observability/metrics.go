package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestSize       *prometheus.HistogramVec
	ResponseSize      *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge
	UpstreamCalls     *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	LivenessChecks    *prometheus.CounterVec
	UpstreamUp        prometheus.Gauge
	RateLimited       prometheus.Counter

	registry *prometheus.Registry
	handler  http.Handler
}

func NewMetrics() *Metrics {
	return &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint", "status_code"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_active_connections",
				Help: "Number of in-flight HTTP requests",
			},
		),
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Upstream calls by path, outcome and upstream status (0 when unreachable)",
			},
			[]string{"path", "outcome", "upstream_status"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gateway_upstream_request_duration_seconds",
				Help: "Upstream call duration in seconds",
				// Cold starts on the hosting platform can take close to a minute.
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"path", "outcome"},
		),
		LivenessChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_liveness_checks_total",
				Help: "Liveness checks by terminal outcome (primary, fallback, unreachable)",
			},
			[]string{"outcome"},
		),
		UpstreamUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_upstream_up",
				Help: "Result of the last liveness check (1 = reachable, 0 = unreachable)",
			},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
}

func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration, requestSize, responseSize int64) {
	status := strconv.Itoa(statusCode)

	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.ResponseSize.WithLabelValues(method, endpoint, status).Observe(float64(responseSize))
}

// RecordUpstreamCall records one forwarded call.
func (m *Metrics) RecordUpstreamCall(path, outcome string, upstreamStatus int, duration time.Duration) {
	m.UpstreamCalls.WithLabelValues(path, outcome, strconv.Itoa(upstreamStatus)).Inc()
	m.UpstreamDuration.WithLabelValues(path, outcome).Observe(duration.Seconds())
}

// RecordLiveness records the terminal outcome of a liveness check.
func (m *Metrics) RecordLiveness(outcome string) {
	m.LivenessChecks.WithLabelValues(outcome).Inc()
	m.SetUpstreamUp(outcome != "unreachable")
}

func (m *Metrics) SetUpstreamUp(up bool) {
	if up {
		m.UpstreamUp.Set(1)
	} else {
		m.UpstreamUp.Set(0)
	}
}

func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m.handler != nil {
		return m.handler
	}
	return promhttp.Handler()
}

// Register registers every collector with a private registry and builds the
// handler that serves it.
func (m *Metrics) Register() error {
	m.registry = prometheus.NewRegistry()

	collectors := []prometheus.Collector{
		m.RequestCount,
		m.RequestDuration,
		m.RequestSize,
		m.ResponseSize,
		m.ActiveConnections,
		m.UpstreamCalls,
		m.UpstreamDuration,
		m.LivenessChecks,
		m.UpstreamUp,
		m.RateLimited,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return nil
}
