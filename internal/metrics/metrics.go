// Package metrics exposes the Prometheus instrumentation for the
// orchestration core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the core's Prometheus metrics: provider traffic, cache
// effectiveness, tool executions, and stream lifecycle.
type Metrics struct {
	// ProviderRequests counts provider round-trips.
	// Labels: provider, model, status (success|error)
	ProviderRequests *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRetries counts orchestrator-level retries.
	// Labels: provider, kind
	ProviderRetries *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// CacheEvents counts cache lookups. Labels: result (hit|miss|skip)
	CacheEvents *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveStreams gauges currently open SSE sessions.
	ActiveStreams prometheus.Gauge

	// Turns counts completed turns. Labels: mode (query|stream), status
	Turns *prometheus.CounterVec
}

// New creates and registers the metrics on the default registry. Call once
// at startup.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer. Tests use a fresh
// registry per instance.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_provider_requests_total",
				Help: "Total provider round-trips by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsage_provider_request_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_provider_retries_total",
				Help: "Orchestrator retries by provider and error kind",
			},
			[]string{"provider", "kind"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_tokens_total",
				Help: "Token usage by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		CacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_cache_events_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_tool_executions_total",
				Help: "Tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsage_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsage_active_streams",
				Help: "Currently open SSE sessions",
			},
		),
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsage_turns_total",
				Help: "Completed turns by mode and status",
			},
			[]string{"mode", "status"},
		),
	}
}

// ObserveProviderCall records one provider round-trip.
func (m *Metrics) ObserveProviderCall(provider, model string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// ObserveTokens records usage from a finished provider call.
func (m *Metrics) ObserveTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	m.TokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	m.TokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheEvents.WithLabelValues(result).Inc()
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(name string, elapsed time.Duration, isError bool) {
	if m == nil {
		return
	}
	status := "success"
	if isError {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(name, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveRetry records an orchestrator retry.
func (m *Metrics) ObserveRetry(provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(provider, kind).Inc()
}

// ObserveTurn records turn completion.
func (m *Metrics) ObserveTurn(mode string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Turns.WithLabelValues(mode, status).Inc()
}

// StreamStarted/StreamEnded bracket one SSE session.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
