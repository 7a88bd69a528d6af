package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jibberish_tool_calls_total",
			Help: "Total number of tool calls dispatched by the agent loop",
		},
		[]string{"tool", "status"},
	)

	turnIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jibberish_agent_iterations",
			Help:    "Number of tool calls made per turn",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	turnTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jibberish_agent_truncations_total",
			Help: "Total number of turns stopped at the tool call limit",
		},
	)
)

func recordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

func recordTurn(result *Result) {
	turnIterations.Observe(float64(result.Iterations))
	if result.Truncated {
		turnTruncations.Inc()
	}
}
