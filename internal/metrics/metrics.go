// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the engine and sandbox manager feed.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	ToolCallsTotal     *prometheus.CounterVec
	ProvisionDuration  prometheus.Histogram
	SessionsSweptTotal prometheus.Counter
}

// New registers the collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepagents_turns_total",
			Help: "Completed turns by outcome.",
		}, []string{"status"}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepagents_tool_calls_total",
			Help: "Tool invocations by tool name.",
		}, []string{"tool"}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deepagents_sandbox_provision_seconds",
			Help:    "Time spent provisioning a sandbox until the pod runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		SessionsSweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "deepagents_sessions_swept_total",
			Help: "Sessions timed out by the lifecycle sweep.",
		}),
	}
}
