// Package metrics provides Prometheus metrics for indexing and querying.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitesearch"

var (
	// IndexOperations counts writes, deletes, clears and commits.
	// Labels: operation (write, delete, clear, commit), entity_type, result (success, error)
	IndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Total number of index operations",
		},
		[]string{"operation", "entity_type", "result"},
	)

	// Queries counts executed queries.
	// Labels: entity_type, result (success, invalid, error)
	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of search queries",
		},
		[]string{"entity_type", "result"},
	)

	// QueryDuration tracks store round-trip time per entity type.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of search queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity_type"},
	)

	// RebuildEntities counts entities processed by rebuilds.
	// Labels: entity_type, result (indexed, skipped, failed)
	RebuildEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_entities_total",
			Help:      "Total number of entities processed by index rebuilds",
		},
		[]string{"entity_type", "result"},
	)
)

// Result maps an error to the success/error label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveQuery records one query outcome and its duration.
func ObserveQuery(entityType, result string, started time.Time) {
	Queries.WithLabelValues(entityType, result).Inc()
	QueryDuration.WithLabelValues(entityType).Observe(time.Since(started).Seconds())
}
