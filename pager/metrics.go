package pager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a point-in-time snapshot of an Engine's counters.
type Metrics struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	BlocksFlushed  int64
	ResidentBlocks int
	CacheHitRate   float64
	// OldestUnpinnedAge is how long ago the next eviction candidate was
	// last pinned, per the cache's monotonic recency stamp. Zero if nothing
	// is currently evictable.
	OldestUnpinnedAge time.Duration
}

// Collector adapts an Engine's Metrics to prometheus.Collector, matching
// pebble's convention of exposing engine-level counters as a Prometheus
// collector rather than a bespoke stats struct only.
type Collector struct {
	e *Engine

	hits, misses, evictions, flushed *prometheus.Desc
	resident                         *prometheus.Desc
	oldestUnpinned                   *prometheus.Desc
}

// NewCollector returns a prometheus.Collector backed by e.
func NewCollector(e *Engine) *Collector {
	return &Collector{
		e:              e,
		hits:           prometheus.NewDesc("prequel_pager_hits_total", "Block cache hits.", nil, nil),
		misses:         prometheus.NewDesc("prequel_pager_misses_total", "Block cache misses.", nil, nil),
		evictions:      prometheus.NewDesc("prequel_pager_evictions_total", "Blocks evicted from the cache.", nil, nil),
		flushed:        prometheus.NewDesc("prequel_pager_blocks_flushed_total", "Blocks written back by flush.", nil, nil),
		resident:       prometheus.NewDesc("prequel_pager_resident_blocks", "Blocks currently resident (pinned+cached).", nil, nil),
		oldestUnpinned: prometheus.NewDesc("prequel_pager_oldest_unpinned_seconds", "Age of the next eviction candidate.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.flushed
	ch <- c.resident
	ch <- c.oldestUnpinned
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.e.Metrics()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(m.Evictions))
	ch <- prometheus.MustNewConstMetric(c.flushed, prometheus.CounterValue, float64(m.BlocksFlushed))
	ch <- prometheus.MustNewConstMetric(c.resident, prometheus.GaugeValue, float64(m.ResidentBlocks))
	ch <- prometheus.MustNewConstMetric(c.oldestUnpinned, prometheus.GaugeValue, m.OldestUnpinnedAge.Seconds())
}
