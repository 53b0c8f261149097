// Package metrics holds the gateway's prometheus collectors.
//
// All recording methods are safe on a nil *Metrics so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "m365gate"

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	authFlows           *prometheus.CounterVec
	tokenRefreshes      *prometheus.CounterVec
	toolCalls           *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	rateLimitRejections *prometheus.CounterVec
	sseSessions         prometheus.Gauge
	pendingDeviceCodes  prometheus.Gauge
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		authFlows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_flow_total",
			Help:      "Completed auth flows by flow and outcome.",
		}, []string{"flow", "outcome"}),
		tokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_token_refresh_total",
			Help:      "Silent upstream token refreshes by outcome.",
		}, []string{"outcome"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool, transport and outcome.",
		}, []string{"tool", "transport", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool handler latency including the upstream call.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool"}),
		rateLimitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}, []string{"scope"}),
		sseSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_sessions_active",
			Help:      "Open SSE sessions.",
		}),
		pendingDeviceCodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_codes_pending",
			Help:      "Device authorization requests awaiting approval.",
		}),
	}
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// AuthFlow records the outcome of an auth flow ("interactive", "device",
// "external", "exchange").
func (m *Metrics) AuthFlow(flow, outcome string) {
	if m == nil {
		return
	}
	m.authFlows.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) TokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ToolCall(tool, transport, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, transport, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) RateLimitRejected(scope string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) SSESessionOpened() {
	if m == nil {
		return
	}
	m.sseSessions.Inc()
}

func (m *Metrics) SSESessionClosed() {
	if m == nil {
		return
	}
	m.sseSessions.Dec()
}

func (m *Metrics) SetPendingDeviceCodes(n int) {
	if m == nil {
		return
	}
	m.pendingDeviceCodes.Set(float64(n))
}
