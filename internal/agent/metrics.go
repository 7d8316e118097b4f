package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAnswered      = "answered"
	outcomeEmpty         = "empty"
	outcomeNotConfigured = "not_configured"
	outcomeFailed        = "failed"

	toolStatusOK       = "ok"
	toolStatusSentinel = "sentinel"
	toolStatusError    = "error"

	phaseClassify  = "classify"
	phaseSummarize = "summarize"
)

// Metrics are the agent's Prometheus collectors.
type Metrics struct {
	Cycles         *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	TurnLatency    *prometheus.HistogramVec
}

// NewMetrics registers the agent collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dori",
			Subsystem: "agent",
			Name:      "cycles_total",
			Help:      "Completed question cycles by outcome.",
		}, []string{"outcome"}),
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dori",
			Subsystem: "agent",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dori",
			Subsystem: "agent",
			Name:      "reasoner_turn_seconds",
			Help:      "Latency of reasoning backend turns.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"phase"}),
	}
}

func (m *Metrics) observeTurn(phase string, d time.Duration) {
	m.TurnLatency.WithLabelValues(phase).Observe(d.Seconds())
}
