package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentwave",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrentwave",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentwave",
		Name:      "upstream_requests_total",
		Help:      "Total requests to the Jackett server by operation and outcome.",
	}, []string{"operation", "outcome"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrentwave",
		Name:      "upstream_request_duration_seconds",
		Help:      "Jackett request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"operation"})

	SearchResultsCount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "torrentwave",
		Name:      "search_results_count",
		Help:      "Number of normalized results per successful search.",
		Buckets:   []float64{0, 1, 10, 50, 100, 250, 500, 1000, 2500},
	})

	StaleSearchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentwave",
		Name:      "stale_searches_total",
		Help:      "Searches whose results were discarded because a newer search superseded them.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentwave",
		Name:      "active_sessions",
		Help:      "Number of live UI search sessions.",
	})

	CategoryCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentwave",
		Name:      "category_cache_hits_total",
		Help:      "Total number of category taxonomy cache hits.",
	})

	CategoryCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentwave",
		Name:      "category_cache_misses_total",
		Help:      "Total number of category taxonomy cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		SearchResultsCount,
		StaleSearchesTotal,
		ActiveSessions,
		CategoryCacheHitsTotal,
		CategoryCacheMissesTotal,
	)
}
