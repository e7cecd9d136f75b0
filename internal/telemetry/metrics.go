// Package telemetry centralizes the Prometheus collectors the core
// subsystems publish, following wisbric-nightowl's internal/telemetry
// package: one package-level collector per signal, gathered by All() for
// a single registration call at startup.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ConnectionStatus = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "assistant",
		Subsystem: "connstate",
		Name:      "status",
		Help:      "Current document-store connection state (0=disconnected,1=connecting,2=connected,3=error).",
	},
)

var ConnectionPingFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "connstate",
		Name:      "ping_failures_total",
		Help:      "Total number of failed health-check pings against the document store.",
	},
)

var TransactionAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "txn",
		Name:      "attempts_total",
		Help:      "Total number of ExecuteInTransaction attempts, labeled by outcome.",
	},
	[]string{"outcome"},
)

var CircuitBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "assistant",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state per named dependency (0=closed,1=open,2=half_open).",
	},
	[]string{"dependency"},
)

var BreakerCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "breaker",
		Name:      "calls_total",
		Help:      "Total number of breaker-guarded calls, labeled by dependency and outcome.",
	},
	[]string{"dependency", "outcome"},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total number of availability cache lookups, labeled by result.",
	},
	[]string{"result"},
)

// All returns every collector for a single prometheus.Registerer.MustRegister call.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectionStatus,
		ConnectionPingFailuresTotal,
		TransactionAttemptsTotal,
		CircuitBreakerState,
		BreakerCallsTotal,
		CacheHitsTotal,
	}
}
