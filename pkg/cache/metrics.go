package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/fedgateway/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCounter(prefix, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "fedgateway",
		Subsystem:   "cache",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits:      newCounter(prefix, "hits_total", "Total number of cache hits"),
		misses:    newCounter(prefix, "misses_total", "Total number of cache misses"),
		sets:      newCounter(prefix, "sets_total", "Total number of cache set operations"),
		deletes:   newCounter(prefix, "deletes_total", "Total number of cache delete operations"),
		evictions: newCounter(prefix, "evictions_total", "Total number of cache evictions"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fedgateway",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}
