package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_fetch_total",
			Help: "Total hydrometric API fetches by station and outcome",
		},
		[]string{"station", "status"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riverwatch_fetch_latency_seconds",
			Help:    "Hydrometric API fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station"},
	)

	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_readings_ingested_total",
			Help: "Total readings stored into current-state documents",
		},
		[]string{"station"},
	)

	DailyMeansComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_daily_means_computed_total",
			Help: "Total daily mean records produced by aggregation runs",
		},
		[]string{"station"},
	)

	BatchCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riverwatch_batch_commits_total",
			Help: "Total committed write batches",
		},
	)

	BatchOpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riverwatch_batch_ops_total",
			Help: "Total merge operations committed across all batches",
		},
	)
)
