package cache

import (
	"time"

	"github.com/c360/fedgateway/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg      *metric.MetricsRegistry
	metricsPrefix   string
	evictCallback   EvictCallback[V]
	cleanupInterval time.Duration
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// Ignored if registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with each evicted entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithCleanupInterval sets how often the background sweep removes expired
// entries. Ignored if interval is <= 0.
func WithCleanupInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 {
			opts.cleanupInterval = interval
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		cleanupInterval: 30 * time.Second,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
