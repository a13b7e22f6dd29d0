// Package metrics provides observability for Spectrum using Prometheus
// metrics: cache effectiveness, single-flight sharing, and extraction
// latency/failure tracking.
//
// # Basic Usage
//
//	metrics.CacheHits.WithLabelValues("metadata").Inc()
//
//	timer := prometheus.NewTimer(metrics.FetchLatency.WithLabelValues("rdbms"))
//	defer timer.ObserveDuration()
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts cache hits per TTL class.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spectrum_cache_hits_total",
			Help: "Total cache hits by TTL class",
		},
		[]string{"class"},
	)

	// CacheMisses counts cache misses (absent or stale) per TTL class.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spectrum_cache_misses_total",
			Help: "Total cache misses by TTL class",
		},
		[]string{"class"},
	)

	// SharedFetches counts callers that attached to an already in-flight
	// fetch instead of starting their own.
	SharedFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spectrum_cache_shared_fetches_total",
			Help: "Total callers served by an in-flight fetch for the same key",
		},
	)

	// FetchLatency observes extraction fetch duration by source kind.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spectrum_fetch_duration_seconds",
			Help:    "Metadata extraction latency by source kind",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"kind"},
	)

	// ExtractionErrors counts failed extractions by error type.
	ExtractionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spectrum_extraction_errors_total",
			Help: "Total extraction failures by error type",
		},
		[]string{"type"},
	)

	// CacheInvalidations counts entries removed by explicit invalidation.
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spectrum_cache_invalidations_total",
			Help: "Total cache invalidation operations",
		},
	)
)
