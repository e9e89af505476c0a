// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal        *prometheus.CounterVec
	crawlerFetchRetriesTotal prometheus.Counter
	crawlerRunsTotal         *prometheus.CounterVec
	crawlerRunsSkippedTotal  prometheus.Counter
	crawlerRunActive         prometheus.Gauge
	crawlerPostsUpserted     prometheus.Counter
	rateLimitDelaySeconds    prometheus.Histogram
	geocodeCacheTotal        *prometheus.CounterVec
	geocodeCallsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of forum pages fetched, labeled by kind and status code.",
			},
			[]string{"kind", "status"},
		)

		crawlerFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Total number of fetch retry attempts.",
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerRunsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_runs_skipped_total",
				Help: "Scheduler triggers skipped because a run was still active.",
			},
		)

		crawlerRunActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_run_active",
				Help: "1 while a crawl run is in flight.",
			},
		)

		crawlerPostsUpserted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_posts_upserted_total",
				Help: "Total number of post records written to storage.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		geocodeCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geocode_cache_total",
				Help: "Geocode cache lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		geocodeCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geocode_calls_total",
				Help: "Remote geocoder calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records a fetched page by kind ("listing" or "topic").
func ObservePage(kind string, statusCode int) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(kind, strconv.Itoa(statusCode)).Inc()
}

// ObserveFetchRetry records a retry attempt.
func ObserveFetchRetry() {
	if crawlerFetchRetriesTotal == nil {
		return
	}
	crawlerFetchRetriesTotal.Inc()
}

// ObserveRun records a finished run by status.
func ObserveRun(status string) {
	if crawlerRunsTotal == nil {
		return
	}
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRunSkipped records a scheduler trigger skipped due to overlap.
func ObserveRunSkipped() {
	if crawlerRunsSkippedTotal == nil {
		return
	}
	crawlerRunsSkippedTotal.Inc()
}

// SetRunActive flips the in-flight run gauge.
func SetRunActive(active bool) {
	if crawlerRunActive == nil {
		return
	}
	if active {
		crawlerRunActive.Set(1)
		return
	}
	crawlerRunActive.Set(0)
}

// ObservePostUpserted counts a post write.
func ObservePostUpserted() {
	if crawlerPostsUpserted == nil {
		return
	}
	crawlerPostsUpserted.Inc()
}

// ObserveRateLimitDelay records how long a fetch waited on the limiter.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveGeocodeCache records a cache lookup outcome.
func ObserveGeocodeCache(hit bool) {
	if geocodeCacheTotal == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	geocodeCacheTotal.WithLabelValues(outcome).Inc()
}

// ObserveGeocodeCall records a remote provider call.
func ObserveGeocodeCall(provider string, ok bool) {
	if geocodeCallsTotal == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	geocodeCallsTotal.WithLabelValues(provider, outcome).Inc()
}
