// Package metrics holds the Prometheus collectors shared by the cache,
// the resolver and the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes recorded in FetchTotal.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// Metrics holds all Prometheus metrics for perfdash.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheEvictions     prometheus.Counter
	CachePersistErrors prometheus.Counter
	CacheEntries       prometheus.Gauge

	FetchTotal       *prometheus.CounterVec
	ResolveDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	BatchWriteErrors prometheus.Counter
}

// New creates and registers all metrics with the provided registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfdash_cache_hits_total",
			Help: "Total cache lookups that found an entry",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfdash_cache_misses_total",
			Help: "Total cache lookups that found nothing",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfdash_cache_evictions_total",
			Help: "Total entries evicted to stay within the size bound",
		}),
		CachePersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfdash_cache_persist_errors_total",
			Help: "Total failed writes of the cache file",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perfdash_cache_entries",
			Help: "Current number of cache entries",
		}),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perfdash_fetch_total",
			Help: "Upstream fetches by resource and outcome",
		}, []string{"resource", "outcome"}),
		ResolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perfdash_resolve_duration_seconds",
			Help:    "Run resolution latency by cache result",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"cache"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perfdash_http_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "code"}),
		BatchWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perfdash_batch_file_write_errors_total",
			Help: "Total failed writes of the batch side file",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits,
			m.CacheMisses,
			m.CacheEvictions,
			m.CachePersistErrors,
			m.CacheEntries,
			m.FetchTotal,
			m.ResolveDuration,
			m.RequestsTotal,
			m.BatchWriteErrors,
		)
	}
	return m
}

// Discard returns unregistered metrics for callers that do not export them.
func Discard() *Metrics {
	return New(nil)
}
