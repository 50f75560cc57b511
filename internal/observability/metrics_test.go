package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics("test_record_request")

	m.RecordRequest("backend-1", "tools/call", "ok", 25*time.Millisecond)
	m.RecordRequest("backend-1", "tools/call", "ok", 50*time.Millisecond)
	m.RecordRequest("backend-1", "tools/call", "error", 5*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.requestsTotal.WithLabelValues("backend-1", "tools/call", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.requestsTotal.WithLabelValues("backend-1", "tools/call", "error")))
}

func TestMetrics_RecordError(t *testing.T) {
	m := NewMetrics("test_record_error")

	m.RecordError("backend-1", -32003)
	m.RecordError("backend-1", -32003)
	m.RecordError("backend-2", -32700)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.errorsTotal.WithLabelValues("backend-1", "-32003")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.errorsTotal.WithLabelValues("backend-2", "-32700")))
}

func TestMetrics_RecordCacheHit(t *testing.T) {
	m := NewMetrics("test_record_cache_hit")

	m.RecordCacheHit("backend-1", "tools/list")

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.cacheHitsTotal.WithLabelValues("backend-1", "tools/list")))
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m := NewMetrics("test_active_requests")

	m.IncrementActiveRequests("backend-1")
	m.IncrementActiveRequests("backend-1")
	m.DecrementActiveRequests("backend-1")

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.activeRequests.WithLabelValues("backend-1")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test_handler")
	m.RecordRequest("b", "m", "ok", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "test_handler_rpc_requests_total")
	assert.Contains(t, body, "test_handler_start_time_seconds")
}

func TestMetrics_RegisterCollector(t *testing.T) {
	m := NewMetrics("test_register_collector")

	extra := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "test_register_collector",
		Name:      "extra_total",
		Help:      "An additional collector",
	})

	require.NoError(t, m.RegisterCollector(extra))
	assert.Error(t, m.RegisterCollector(extra), "double registration is rejected")
}

func TestMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	m.RecordRequest("b", "m", "ok", time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "mcpgw_rpc_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "empty namespace falls back to mcpgw")
}
