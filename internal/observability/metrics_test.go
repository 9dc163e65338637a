package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewMetrics(t *testing.T) {
	metrics := NewMetrics()
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.RequestCount)
	assert.NotNil(t, metrics.RequestDuration)
	assert.NotNil(t, metrics.UpstreamCalls)
	assert.NotNil(t, metrics.LivenessChecks)
	assert.NotNil(t, metrics.UpstreamUp)
}

func TestMetrics_RegisterTwiceOnFreshRegistries(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Register())
	// A second Register builds a new registry, so collectors do not clash.
	require.NoError(t, metrics.Register())
}

func TestMetrics_RecordRequest(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Register())

	metrics.RecordRequest(http.MethodGet, "/health", 200, 10*time.Millisecond, 0, 64)

	out := scrape(t, metrics)
	assert.Contains(t, out, `http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}

func TestMetrics_RecordUpstreamCall(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Register())

	metrics.RecordUpstreamCall("/score", "upstream_error", 500, time.Second)
	metrics.RecordUpstreamCall("/score", "unreachable", 0, time.Second)

	out := scrape(t, metrics)
	assert.Contains(t, out, `gateway_upstream_requests_total{outcome="upstream_error",path="/score",upstream_status="500"} 1`)
	assert.Contains(t, out, `gateway_upstream_requests_total{outcome="unreachable",path="/score",upstream_status="0"} 1`)
	assert.Contains(t, out, "gateway_upstream_request_duration_seconds_bucket")
}

func TestMetrics_RecordLiveness(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Register())

	metrics.RecordLiveness("fallback")
	assert.Contains(t, scrape(t, metrics), "gateway_upstream_up 1")

	metrics.RecordLiveness("unreachable")
	out := scrape(t, metrics)
	assert.Contains(t, out, "gateway_upstream_up 0")
	assert.Contains(t, out, `gateway_liveness_checks_total{outcome="fallback"} 1`)
	assert.Contains(t, out, `gateway_liveness_checks_total{outcome="unreachable"} 1`)
}

func TestMetrics_Handler(t *testing.T) {
	metrics := NewMetrics()

	// Before Register the default registry handler is used.
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Header().Get("Content-Type"), "text/plain"))
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Register())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.RecordRequest(http.MethodPost, "/endpoint-"+strconv.Itoa(id), 200, time.Millisecond, int64(j), int64(j))
				metrics.RecordUpstreamCall("/endpoint", "success", 200, time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	assert.Contains(t, scrape(t, metrics), `gateway_upstream_requests_total{outcome="success",path="/endpoint",upstream_status="200"} 1000`)
}
