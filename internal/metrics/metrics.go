// Package metrics collects counters for turns, model calls, and tool
// dispatches. A nil *Metrics is valid and records nothing, so callers
// never need to guard their instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	turns         *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	bridgeTimeout prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid cross-test collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Turns processed, by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_model_calls_total",
			Help: "Model requests, by model and stop reason.",
		}, []string{"model", "stop_reason"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tool_calls_total",
			Help: "Tool dispatches, by tool and result.",
		}, []string{"tool", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tokens_total",
			Help: "Token usage, by direction.",
		}, []string{"direction"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Wall time per turn.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		bridgeTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_bridge_timeouts_total",
			Help: "Host tool calls that never answered.",
		}),
	}
	reg.MustRegister(m.turns, m.modelCalls, m.toolCalls, m.tokens, m.turnDuration, m.bridgeTimeout)
	return m
}

func (m *Metrics) TurnFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ModelCall(model, stopReason string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(model, stopReason).Inc()
}

func (m *Metrics) ToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	result := "ok"
	if isError {
		result = "error"
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) Tokens(input, output int64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(input))
	m.tokens.WithLabelValues("output").Add(float64(output))
}

func (m *Metrics) BridgeTimeout() {
	if m == nil {
		return
	}
	m.bridgeTimeout.Inc()
}
