package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds the Prometheus collectors shared by every engine in the process.
type engineMetrics struct {
	CacheReads        *prometheus.CounterVec
	SavesRejected     *prometheus.CounterVec
	RefreshRuns       *prometheus.CounterVec
	RefreshTriggers   *prometheus.CounterVec
	ItemsEnriched     *prometheus.CounterVec
	CorruptionsFound  *prometheus.CounterVec
	RetryQueueDepth   prometheus.Gauge
	RetryOutcomes     *prometheus.CounterVec
	RefreshInProgress *prometheus.GaugeVec
}

var metrics = newEngineMetrics()

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_cache_reads_total",
			Help: "Cache reads by collection and serving tier",
		}, []string{"collection", "source"}),

		SavesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_saves_rejected_total",
			Help: "Snapshots rejected by the integrity validator",
		}, []string{"collection"}),

		RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_refresh_runs_total",
			Help: "Refresh runs by collection and result",
		}, []string{"collection", "result"}),

		RefreshTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_refresh_triggers_total",
			Help: "Refresh triggers by collection and whether they were accepted",
		}, []string{"collection", "outcome"}),

		ItemsEnriched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_items_enriched_total",
			Help: "Items that received at least one enrichment",
		}, []string{"collection"}),

		CorruptionsFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_corruptions_found_total",
			Help: "Items whose stored data disagreed with the remote source",
		}, []string{"collection"}),

		RetryQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "feedmirror_store_retry_queue_depth",
			Help: "Snapshot writes waiting for a retry",
		}),

		RetryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmirror_store_retry_outcomes_total",
			Help: "Outcomes of retried snapshot writes",
		}, []string{"outcome"}),

		RefreshInProgress: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedmirror_refresh_in_progress",
			Help: "1 while a refresh run is active for the collection",
		}, []string{"collection"}),
	}
}
