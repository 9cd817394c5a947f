// Package metrics holds the harvester's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for crawl runs and price lookups.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	PagesTotal            *prometheus.CounterVec
	ExtractAttemptsTotal  prometheus.Counter
	RetriesTotal          prometheus.Counter
	ExtractDuration       prometheus.Histogram
	ListingsSavedTotal    prometheus.Counter
	CheckpointWritesTotal *prometheus.CounterVec
	RunsTotal             *prometheus.CounterVec
	PriceCacheTotal       *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Pages recorded by crawl runs, by outcome.",
		},
		[]string{"outcome"},
	)
	attempts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_extract_attempts_total",
			Help: "Total extractor calls.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_extract_retries_total",
			Help: "Extractor calls repeated after an empty result.",
		},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_extract_duration_seconds",
			Help:    "Latency of a single extractor call.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	listings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_listings_saved_total",
			Help: "Listings upserted into the store.",
		},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_checkpoint_writes_total",
			Help: "Checkpoint writes, by result.",
		},
		[]string{"result"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Finished crawl runs, by final status.",
		},
		[]string{"status"},
	)
	priceCache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_price_cache_lookups_total",
			Help: "Market price cache lookups, by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(pages, attempts, retries, duration, listings, checkpoints, runs, priceCache)

	return &Metrics{
		Registry:              registry,
		PagesTotal:            pages,
		ExtractAttemptsTotal:  attempts,
		RetriesTotal:          retries,
		ExtractDuration:       duration,
		ListingsSavedTotal:    listings,
		CheckpointWritesTotal: checkpoints,
		RunsTotal:             runs,
		PriceCacheTotal:       priceCache,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExtract(d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractAttemptsTotal.Inc()
	m.ExtractDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) AddListings(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsSavedTotal.Add(float64(n))
}

func (m *Metrics) IncCheckpoint(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CheckpointWritesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// IncPriceCache records a cache lookup as "hit", "stale" or "miss".
func (m *Metrics) IncPriceCache(result string) {
	if m == nil {
		return
	}
	m.PriceCacheTotal.WithLabelValues(result).Inc()
}
