package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts orders accepted by the engine, by market, side and
// terminal-or-resting status.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbitex_orders_processed_total",
		Help: "Total number of orders processed by the engine",
	},
	[]string{"market", "side", "status"},
)

// OrdersCancelled counts orders removed by cancel or cancel-all.
var OrdersCancelled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbitex_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	},
	[]string{"market"},
)

// TradesExecuted counts fills emitted by the matching pass.
var TradesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbitex_trades_executed_total",
		Help: "Total number of executed fills",
	},
	[]string{"market"},
)

// RequestLatency records dispatch latency per request type.
var RequestLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "orbitex_request_latency_seconds",
		Help:    "Latency in seconds to handle one queued request",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"type"},
)

// RequestErrors counts requests that ended in an error reply.
var RequestErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbitex_request_errors_total",
		Help: "Total number of requests answered with an error",
	},
	[]string{"type"},
)

// PersistFailures counts database-worker writes that exhausted their retries.
var PersistFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbitex_persist_failures_total",
		Help: "Total number of records the persistence worker failed to write",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersCancelled, TradesExecuted)
	prometheus.MustRegister(RequestLatency, RequestErrors, PersistFailures)
}
