// Package metrics registers the Prometheus metrics exposed by the policy
// pipeline. Import this package (via blank import or through plugin) from
// the server entry point to register all metrics before the /metrics
// handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chain- and plugin-level counters and histograms.
var (
	// ChainRuns counts completed chain executions labelled by hook and
	// outcome ("allow", "block").
	ChainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_chain_runs_total",
			Help: "Total plugin chain executions by hook and outcome.",
		},
		[]string{"hook", "outcome"},
	)

	// PluginExecutions counts individual hook invocations labelled by
	// plugin, hook, and outcome ("allow", "block", "fault", "skip").
	PluginExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_plugin_executions_total",
			Help: "Total plugin hook invocations by outcome.",
		},
		[]string{"plugin", "hook", "outcome"},
	)

	// PluginDuration observes per-invocation handler latency in seconds.
	PluginDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgateway_plugin_duration_seconds",
			Help:    "Plugin handler duration in seconds.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"plugin", "hook"},
	)

	// ViolationsTotal counts violations raised, including those suppressed
	// by permissive mode, labelled by plugin and machine code.
	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgateway_violations_total",
			Help: "Total policy violations raised by plugins.",
		},
		[]string{"plugin", "code"},
	)
)
