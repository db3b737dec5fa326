// Package queue exposes Prometheus metrics for the retry spool.
package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricDepth tracks live entries in the spool.
	metricDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of entries currently in the retry spool",
		},
	)

	// metricEnqueued counts deferred writes accepted into the spool.
	metricEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total entries written to the retry spool",
		},
	)

	// metricDrained counts entries flushed to the backend and removed.
	metricDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "drained_total",
			Help:      "Total entries successfully flushed to the backend",
		},
	)

	// metricExhausted counts entries that hit the retry ceiling.
	metricExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "exhausted_total",
			Help:      "Total entries retained after exhausting retries",
		},
	)

	// metricQuarantined counts corrupt entry files moved aside at load.
	metricQuarantined = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "quarantined_total",
			Help:      "Total corrupt entry files moved to quarantine",
		},
	)

	// metricDrainDuration tracks drain pass latency.
	metricDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "queue",
			Name:      "drain_duration_seconds",
			Help:      "Duration of drain passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
