package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendscore_source_fetches_total",
		Help: "The total number of source fetches",
	}, []string{"source", "status"})

	SourceItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trendscore_source_items",
		Help: "Items returned by the last fetch of each source",
	}, []string{"source"})

	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trendscore_source_fetch_duration_seconds",
		Help:    "Duration of source fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendscore_cache_hits_total",
		Help: "Refresh cycles served from the trend cache",
	})

	JudgeBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendscore_judge_batches_total",
		Help: "The total number of judgment batches",
	}, []string{"status"})

	CrossPlatformDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendscore_cross_platform_detections_total",
		Help: "The total number of cross-platform detection calls",
	}, []string{"status"})

	LLMCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendscore_llm_cost_usd_total",
		Help: "Estimated LLM spend in USD",
	}, []string{"model"})

	RankDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trendscore_rank_duration_seconds",
		Help:    "Duration of a full ranking pass",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	RankDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendscore_rank_degraded_total",
		Help: "Ranking passes that fell back to cached basic scores",
	})

	RankedTrends = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trendscore_ranked_trends",
		Help: "Trends in the last ranking pass by value tier",
	}, []string{"tier"})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendscore_alerts_sent_total",
		Help: "The total number of alert notifications",
	}, []string{"notifier", "status"})
)
