// Package metrics exposes detector counters as Prometheus metrics.
//
// The collector pulls a stats snapshot on every scrape instead of pushing
// through promauto globals, so each runtime instance can register its own
// collector (or none) with whatever registry the embedding host uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kolkov/heapguard/internal/asan/allocator"
)

const namespace = "heapguard"

// StatsSource yields a consistent snapshot of allocator counters.
// *api.Runtime satisfies it.
type StatsSource interface {
	Stats() allocator.Stats
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source StatsSource

	allocs           *prometheus.Desc
	frees            *prometheus.Desc
	failedAllocs     *prometheus.Desc
	evictions        *prometheus.Desc
	liveChunks       *prometheus.Desc
	liveBytes        *prometheus.Desc
	quarantineChunks *prometheus.Desc
	quarantineBytes  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from the given source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		allocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "allocations_total"),
			"Total guarded allocations served.", nil, nil),
		frees: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frees_total"),
			"Total deallocations accepted.", nil, nil),
		failedAllocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_allocations_total"),
			"Allocations rejected because the raw source was exhausted.", nil, nil),
		evictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "quarantine_evictions_total"),
			"Chunks released from quarantine back to the raw source.", nil, nil),
		liveChunks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_chunks"),
			"Currently allocated chunks.", nil, nil),
		liveBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_bytes"),
			"User bytes in currently allocated chunks.", nil, nil),
		quarantineChunks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "quarantine_chunks"),
			"Freed chunks currently held in quarantine.", nil, nil),
		quarantineBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "quarantine_bytes"),
			"Raw bytes currently held in quarantine.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocs
	ch <- c.frees
	ch <- c.failedAllocs
	ch <- c.evictions
	ch <- c.liveChunks
	ch <- c.liveBytes
	ch <- c.quarantineChunks
	ch <- c.quarantineBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(st.Allocs))
	ch <- prometheus.MustNewConstMetric(c.frees, prometheus.CounterValue, float64(st.Frees))
	ch <- prometheus.MustNewConstMetric(c.failedAllocs, prometheus.CounterValue, float64(st.FailedAllocs))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(c.liveChunks, prometheus.GaugeValue, float64(st.LiveChunks))
	ch <- prometheus.MustNewConstMetric(c.liveBytes, prometheus.GaugeValue, float64(st.LiveBytes))
	ch <- prometheus.MustNewConstMetric(c.quarantineChunks, prometheus.GaugeValue, float64(st.QuarantineChunks))
	ch <- prometheus.MustNewConstMetric(c.quarantineBytes, prometheus.GaugeValue, float64(st.QuarantineBytes))
}
