package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geomux/geomux/internal/cache"
)

// CacheStatsCollector exposes a cache's internal counters as Prometheus
// metrics without the cache package depending on Prometheus.
type CacheStatsCollector struct {
	scope string
	cache *cache.ResilientCache

	hits         *prometheus.Desc
	misses       *prometheus.Desc
	negativeHits *prometheus.Desc
	joins        *prometheus.Desc
	fills        *prometheus.Desc
	overloads    *prometheus.Desc
	readErrors   *prometheus.Desc
	writeErrors  *prometheus.Desc
	pending      *prometheus.Desc
}

var _ prometheus.Collector = (*CacheStatsCollector)(nil)

// NewCacheStatsCollector creates a collector for one cache scope.
func NewCacheStatsCollector(scope string, c *cache.ResilientCache) *CacheStatsCollector {
	labels := prometheus.Labels{"scope": scope}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_cache_"+name, help, nil, labels)
	}
	return &CacheStatsCollector{
		scope:        scope,
		cache:        c,
		hits:         desc("hits_total", "Successful cache hits"),
		misses:       desc("misses_total", "Cache misses"),
		negativeHits: desc("negative_hits_total", "Cached failure hits"),
		joins:        desc("joins_total", "Requests coalesced onto an in-flight fetch"),
		fills:        desc("fills_total", "Cold fills executed"),
		overloads:    desc("overloads_total", "Requests rejected by the admission gate"),
		readErrors:   desc("read_errors_total", "Cache backend read failures"),
		writeErrors:  desc("write_errors_total", "Cache backend write failures"),
		pending:      desc("pending_fetches", "Current in-flight fetches"),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.negativeHits
	ch <- c.joins
	ch <- c.fills
	ch <- c.overloads
	ch <- c.readErrors
	ch <- c.writeErrors
	ch <- c.pending
}

// Collect implements prometheus.Collector.
func (c *CacheStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.negativeHits, s.NegativeHits)
	counter(c.joins, s.Joins)
	counter(c.fills, s.Fills)
	counter(c.overloads, s.Overloads)
	counter(c.readErrors, s.ReadErrors)
	counter(c.writeErrors, s.WriteErrors)
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.cache.PendingLen()))
}
