package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestMetrics_Counters(t *testing.T) {
	m := newMetrics(t)

	m.RunFinished("")
	m.RunFinished(apperrors.KindExecutionFailed)
	m.RunFinished(apperrors.KindExecutionFailed)
	m.ExecutionAttempt()
	m.Retry()
	m.HistoryWriteFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("execution_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyWriteFailures))
}

func TestMetrics_ProviderCallsByResult(t *testing.T) {
	m := newMetrics(t)
	observe := m.Observer()

	observe("openai", 100*time.Millisecond, nil)
	observe("openai", time.Second, errors.New("status code: 429, rate limit"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCallsTotal.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCallsTotal.WithLabelValues("openai", "rate_limit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.providerLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunFinished(apperrors.KindInternal)
		m.ExecutionAttempt()
		m.Retry()
		m.HistoryWriteFailed()
		m.ProviderCall("x", time.Second, nil)
		m.HTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := newMetrics(t)
	m.HTTPRequest("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insightpilot_http_requests_total")
}

func TestNew_RejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
