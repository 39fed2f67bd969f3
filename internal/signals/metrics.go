package signals

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an opt-in Prometheus instrumentation point for a
// Dispatcher. spec.md §1 places observability exporters (the HTTP
// handler serving /metrics) out of scope for the core, but the
// instrumentation points themselves are ambient — this mirrors the
// teacher's internal/observability/metrics.go, trimmed to the counters
// the step machine's own callbacks can actually feed
// (API usage and tool execution), rather than the teacher's full
// channel/HTTP/database surface, none of which this core has.
type Metrics struct {
	APITokens      *prometheus.CounterVec
	APICostUSD     *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

// NewMetrics registers a fresh Metrics against reg. Passing a
// prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps repeated calls in tests from colliding on duplicate
// registration, the same discipline the teacher's metrics_test.go uses.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		APITokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_api_tokens_total",
				Help: "Total input/output tokens reported by on_api_usage",
			},
			[]string{"type"},
		),
		APICostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_api_cost_usd_total",
				Help: "Total estimated USD cost reported by on_api_usage",
			},
			[]string{"engine"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_provider_retries_total",
				Help: "Total adapter retry attempts observed via on_retry",
			},
			[]string{},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_step_errors_total",
				Help: "Total on_error events by kind",
			},
			[]string{"kind"},
		),
	}
}

// Hooks returns a Hooks value wired to m, suitable for Dispatcher.Attach
// — the instrumentation runs as just another registered hook, subject
// to the same panic recovery and ordering as any caller-supplied one.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnToolComplete: func(toolName string, _ []byte, _ string, isError bool) {
			status := "ok"
			if isError {
				status = "error"
			}
			m.ToolExecutions.WithLabelValues(toolName, status).Inc()
		},
		OnRetry: func(_ int, _ error) {
			m.Retries.WithLabelValues().Inc()
		},
		OnError: func(kind, _ string) {
			m.Errors.WithLabelValues(kind).Inc()
		},
		OnAPIUsage: func(inputTokens, outputTokens int, costUSD float64) {
			m.APITokens.WithLabelValues("input").Add(float64(inputTokens))
			m.APITokens.WithLabelValues("output").Add(float64(outputTokens))
			m.APICostUSD.WithLabelValues("default").Add(costUSD)
		},
	}
}
