package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "ingest_total",
		Help:      "Ingestion requests by outcome.",
	}, []string{"outcome"})

	metricQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "query_total",
		Help:      "Retrieval queries by outcome.",
	}, []string{"outcome"})

	metricQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "End-to-end retrieval latency including scoring.",
		Buckets:   prometheus.DefBuckets,
	})

	metricMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "dedup_merges_total",
		Help:      "Duplicate submissions merged into existing records.",
	})

	metricBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "embeddings_backfilled_total",
		Help:      "Pending records re-embedded to completion.",
	})
)
