// Package metrics holds the Prometheus collectors for the query pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/llm"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsTotal            *prometheus.CounterVec
	executionsTotal      prometheus.Counter
	retriesTotal         prometheus.Counter
	providerCallsTotal   *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	historyWriteFailures prometheus.Counter
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightpilot_runs_total",
				Help: "Completed pipeline runs by outcome kind (success for successful runs).",
			},
			[]string{"outcome"},
		),
		executionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "insightpilot_execution_attempts_total",
				Help: "Queries executed against a backend, including retries.",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "insightpilot_retries_total",
				Help: "Repair attempts triggered by a retryable execution error.",
			},
		),
		providerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightpilot_provider_calls_total",
				Help: "LLM provider calls by provider and result.",
			},
			[]string{"provider", "result"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightpilot_provider_latency_seconds",
				Help:    "LLM provider call latency.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 180},
			},
			[]string{"provider"},
		),
		historyWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "insightpilot_history_write_failures_total",
				Help: "History entries that could not be recorded.",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightpilot_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightpilot_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.runsTotal,
		m.executionsTotal,
		m.retriesTotal,
		m.providerCallsTotal,
		m.providerLatency,
		m.historyWriteFailures,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RunFinished counts a terminal outcome. An empty kind is a success.
func (m *Metrics) RunFinished(kind apperrors.Kind) {
	if m == nil {
		return
	}
	outcome := string(kind)
	if outcome == "" {
		outcome = "success"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExecutionAttempt() {
	if m != nil {
		m.executionsTotal.Inc()
	}
}

func (m *Metrics) Retry() {
	if m != nil {
		m.retriesTotal.Inc()
	}
}

func (m *Metrics) HistoryWriteFailed() {
	if m != nil {
		m.historyWriteFailures.Inc()
	}
}

// ProviderCall matches llm.CallObserver so the pool can report into it.
func (m *Metrics) ProviderCall(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(llm.ClassifyError(err).Type)
	}
	m.providerCallsTotal.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Observer returns ProviderCall as a pool observer.
func (m *Metrics) Observer() llm.CallObserver {
	return m.ProviderCall
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, path, s).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, s).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
