package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("/x", "GET", 200, time.Millisecond)
		m.AuthFlow("exchange", "success")
		m.TokenRefresh("success")
		m.ToolCall("getInbox", "rest", "success", time.Millisecond)
		m.RateLimitRejected("auth")
		m.SSESessionOpened()
		m.SSESessionClosed()
		m.SetPendingDeviceCodes(3)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.AuthFlow("exchange", "success")
	m.AuthFlow("exchange", "success")
	m.AuthFlow("exchange", "failure")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authFlows.WithLabelValues("exchange", "success")))

	m.SSESessionOpened()
	m.SSESessionOpened()
	m.SSESessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sseSessions))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ToolCall("getInbox", "jsonrpc", "success", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `m365gate_tool_calls_total{outcome="success",tool="getInbox",transport="jsonrpc"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
