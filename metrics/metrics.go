// Package metrics exposes Prometheus instruments for the agent runtime.
//
// Usage:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	a, _ := agent.New(cfg, provider, agent.WithMetrics(m))
//	http.Handle("/metrics", promhttp.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/llm"
)

// Metrics implements agent.Recorder.
type Metrics struct {
	// Turns counts finished turns.
	// Labels: agent, reason
	Turns *prometheus.CounterVec

	// TurnDuration measures turn wall time in seconds.
	// Labels: agent
	TurnDuration *prometheus.HistogramVec

	// Iterations counts tool dispatch rounds.
	// Labels: agent
	Iterations *prometheus.CounterVec

	// ModelCalls counts backend calls, stabilizer retries included.
	// Labels: agent
	ModelCalls *prometheus.CounterVec

	// DegenerateResponses counts responses rejected as repeats.
	// Labels: agent
	DegenerateResponses *prometheus.CounterVec

	// ForcedResponses counts repeats accepted after the retry budget ran out.
	// Labels: agent
	ForcedResponses *prometheus.CounterVec

	// Tokens tracks token consumption.
	// Labels: agent, type (prompt|completion)
	Tokens *prometheus.CounterVec

	// ToolCalls counts internal tool executions.
	// Labels: agent, tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec
}

// New creates and registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "turns_total",
			Help:      "Finished agent turns by termination reason.",
		}, []string{"agent", "reason"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anemoi",
			Name:      "turn_duration_seconds",
			Help:      "Agent turn wall time.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "tool_iterations_total",
			Help:      "Tool dispatch rounds.",
		}, []string{"agent"}),
		ModelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "model_calls_total",
			Help:      "Model backend calls including stabilizer retries.",
		}, []string{"agent"}),
		DegenerateResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "degenerate_responses_total",
			Help:      "Responses rejected as repeats of recent output.",
		}, []string{"agent"}),
		ForcedResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "forced_responses_total",
			Help:      "Repeating responses accepted after the retry budget ran out.",
		}, []string{"agent"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "tokens_total",
			Help:      "Tokens consumed.",
		}, []string{"agent", "type"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anemoi",
			Name:      "tool_calls_total",
			Help:      "Internal tool executions.",
		}, []string{"agent", "tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anemoi",
			Name:      "tool_duration_seconds",
			Help:      "Internal tool execution time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
	}
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(agentName string, reason agent.Reason, iterations int, usage llm.TokenUsage, elapsed time.Duration) {
	m.Turns.WithLabelValues(agentName, string(reason)).Inc()
	m.TurnDuration.WithLabelValues(agentName).Observe(elapsed.Seconds())
	m.Iterations.WithLabelValues(agentName).Add(float64(iterations))
	m.Tokens.WithLabelValues(agentName, "prompt").Add(float64(usage.PromptTokens))
	m.Tokens.WithLabelValues(agentName, "completion").Add(float64(usage.CompletionTokens))
}

// ObserveModelCalls records one stabilizer call.
func (m *Metrics) ObserveModelCalls(agentName string, attempts, degenerate int, forced bool) {
	m.ModelCalls.WithLabelValues(agentName).Add(float64(attempts))
	m.DegenerateResponses.WithLabelValues(agentName).Add(float64(degenerate))
	if forced {
		m.ForcedResponses.WithLabelValues(agentName).Inc()
	}
}

// ObserveToolCall records one internal tool execution.
func (m *Metrics) ObserveToolCall(agentName, tool string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(agentName, tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Handler serves the instruments registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Verify Metrics implements agent.Recorder
var _ agent.Recorder = (*Metrics)(nil)
