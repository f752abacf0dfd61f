// Package metrics exposes Prometheus collectors for harvest runs.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequestsTotal     *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	transportFailuresTotal *prometheus.CounterVec
	recordsTotal           *prometheus.CounterVec
	enrichmentBatchesTotal *prometheus.CounterVec
	metadataEntriesTotal   *prometheus.CounterVec
	mergePatchesTotal      *prometheus.CounterVec
	rateLimitDelaySeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_cache_requests_total",
				Help: "Requests answered by the response cache, labeled by kind and outcome (hit or miss).",
			},
			[]string{"kind", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bibharvest_fetch_duration_seconds",
				Help:    "Histogram of network round-trip latencies on cache misses, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		transportFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_transport_failures_total",
				Help: "Requests that failed or returned a non-200 status, labeled by site.",
			},
			[]string{"site"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_records_total",
				Help: "Records extracted, labeled by source name.",
			},
			[]string{"source"},
		)

		enrichmentBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_enrichment_batches_total",
				Help: "Batched DOI metadata requests issued, labeled by source name.",
			},
			[]string{"source"},
		)

		metadataEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_metadata_entries_total",
				Help: "New DOI metadata cache entries, labeled by kind.",
			},
			[]string{"kind"},
		)

		mergePatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibharvest_merge_patches_total",
				Help: "Record fields back-patched from DOI metadata, labeled by field.",
			},
			[]string{"field"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bibharvest_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host request limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveCacheRequest counts a response cache lookup.
func ObserveCacheRequest(kind string, hit bool) {
	Init()
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetch records the latency of a network round-trip.
func ObserveFetch(rawURL string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveTransportFailure counts a failed request.
func ObserveTransportFailure(rawURL string) {
	Init()
	transportFailuresTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRecords adds n extracted records for a source.
func ObserveRecords(source string, n int) {
	Init()
	if n > 0 {
		recordsTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveEnrichmentBatch counts one batched metadata request.
func ObserveEnrichmentBatch(source string) {
	Init()
	enrichmentBatchesTotal.WithLabelValues(source).Inc()
}

// ObserveMetadataEntry counts a new metadata cache entry.
func ObserveMetadataEntry(kind string) {
	Init()
	metadataEntriesTotal.WithLabelValues(kind).Inc()
}

// ObserveMergePatch counts a back-patched record field.
func ObserveMergePatch(field string) {
	Init()
	mergePatchesTotal.WithLabelValues(field).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a request slot.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}

// WriteTextfile dumps every registered collector in the text exposition format,
// for pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
