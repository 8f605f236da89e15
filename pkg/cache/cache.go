package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/fedgateway/errors"
)

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// entry is a cached value with its expiry.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a thread-safe cache evicting by TTL and, when the size bound is
// reached, by least-recent use.
type Cache[V any] struct {
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // LRU order, front = most recently used

	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]

	shutdown chan struct{}
	done     chan struct{}
}

// New creates a cache holding at most maxSize entries, each live for ttl.
// A background goroutine sweeps expired entries until ctx is cancelled or
// Close is called.
func New[V any](ctx context.Context, maxSize int, ttl time.Duration, options ...Option[V]) (*Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New", "maxSize must be positive")
	}
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New", "ttl must be positive")
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	c := &Cache[V]{
		maxSize:  maxSize,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		stats:    NewStatistics(),
		metrics:  metrics,
		evictFn:  opts.evictCallback,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go c.sweep(ctx, opts.cleanupInterval)

	return c, nil
}

// Get retrieves a value by key, expiring stale entries and refreshing LRU order.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		c.recordMiss()
		var zero V
		return zero, false
	}

	e := element.Value.(*entry[V])
	if e.expired(time.Now()) {
		c.removeElement(element)
		c.recordEviction()
		c.recordMiss()
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.recordHit()
	return e.value, true
}

// Set stores a value, evicting the LRU entry if the cache is full.
// Returns true if a new entry was created, false if an existing one was updated.
func (c *Cache[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Set", "key cannot be empty")
	}

	expiresAt := time.Now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		e := element.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.recordSet()
		return false, nil
	}

	element := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = element

	if len(c.items) > c.maxSize {
		if back := c.order.Back(); back != nil {
			c.removeElement(back)
			c.recordEviction()
		}
	}

	c.recordSet()
	return true, nil
}

// Delete removes an entry by key. Returns true if the key existed.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}

	c.removeElement(element)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.deletes.Inc()
		c.metrics.size.Set(float64(len(c.items)))
	}
	return true
}

// Clear removes all entries from the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			e := element.Value.(*entry[V])
			c.evictFn(e.key, e.value)
		}
	}

	c.items = make(map[string]*list.Element)
	c.order.Init()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

// Size returns the current number of entries.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns all unexpired keys in LRU order, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		e := element.Value.(*entry[V])
		if !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns the cache statistics.
func (c *Cache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *Cache[V]) Close() error {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweep goroutine")
	}
}

// removeElement removes an element from the list and map. Lock must be held.
func (c *Cache[V]) removeElement(element *list.Element) {
	e := element.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(element)

	if c.evictFn != nil {
		defer c.evictFn(e.key, e.value)
	}
}

func (c *Cache[V]) recordHit() {
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *Cache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Cache[V]) recordSet() {
	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.sets.Inc()
		c.metrics.size.Set(float64(len(c.items)))
	}
}

func (c *Cache[V]) recordEviction() {
	c.stats.Eviction()
	if c.metrics != nil {
		c.metrics.evictions.Inc()
	}
}

// sweep periodically removes expired entries.
func (c *Cache[V]) sweep(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache[V]) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	var expired []*entry[V]
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		e := element.Value.(*entry[V])
		if e.expired(now) {
			expired = append(expired, e)
			delete(c.items, e.key)
			c.order.Remove(element)
		}
		element = next
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	// Callbacks run outside the lock
	if c.evictFn != nil {
		for _, e := range expired {
			c.evictFn(e.key, e.value)
		}
	}

	for range expired {
		c.stats.Eviction()
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.evictions.Add(float64(len(expired)))
		c.metrics.size.Set(float64(size))
	}
}
