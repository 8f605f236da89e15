// Package cache provides a generic, thread-safe cache with combined TTL and
// LRU eviction.
//
// The gateway uses it as the query-plan cache: entries expire after the
// configured TTL, the least recently used entry is evicted when the size
// bound is reached, and Clear drops everything at once (how the planner
// invalidates all plans when the schema generation changes).
//
// Statistics are always collected; Prometheus export is optional via
// WithMetrics. An eviction callback can observe entries as they leave the
// cache.
package cache
