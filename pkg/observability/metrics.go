package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisql_queries_total",
			Help: "Total SQL queries processed",
		},
		[]string{"status", "tenant_id"},
	)

	queryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnisql_query_latency_seconds",
			Help:    "Query execution latency",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"tenant_id"},
	)

	connectorFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisql_connector_fetches_total",
			Help: "Connector fetch outcomes",
		},
		[]string{"connector_id", "outcome"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisql_rate_limit_denials_total",
			Help: "Rate limiter denials per tenant and connector",
		},
		[]string{"tenant_id", "connector_id"},
	)
)

// RecordQuery counts one finished query by HTTP status.
func RecordQuery(status, tenantID string) {
	queryCount.WithLabelValues(status, tenantID).Inc()
}

// ObserveQueryLatency records end-to-end query latency in seconds.
func ObserveQueryLatency(tenantID string, seconds float64) {
	queryLatency.WithLabelValues(tenantID).Observe(seconds)
}

// RecordFetch counts one connector fetch outcome: "hit", "stale",
// "fetched", or "error".
func RecordFetch(connectorID, outcome string) {
	connectorFetches.WithLabelValues(connectorID, outcome).Inc()
}

// RecordRateLimitDenial counts one denied consume.
func RecordRateLimitDenial(tenantID, connectorID string) {
	rateLimitHits.WithLabelValues(tenantID, connectorID).Inc()
}
