package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/metric"
)

func newTestCache(t *testing.T, maxSize int, ttl time.Duration, opts ...Option[string]) *Cache[string] {
	t.Helper()
	c, err := New[string](context.Background(), maxSize, ttl, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	created, err := c.Set("a", "1")
	require.NoError(t, err)
	assert.True(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	created, err = c.Set("a", "2")
	require.NoError(t, err)
	assert.False(t, created)

	v, _ = c.Get("a")
	assert.Equal(t, "2", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_InvalidConstruction(t *testing.T) {
	_, err := New[string](context.Background(), 0, time.Minute)
	assert.Error(t, err)

	_, err = New[string](context.Background(), 10, 0)
	assert.Error(t, err)
}

func TestCache_EmptyKeyRejected(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	_, err := c.Set("", "value")
	assert.Error(t, err)
}

func TestCache_LRUEviction(t *testing.T) {
	var evicted []string
	var mu sync.Mutex
	c := newTestCache(t, 2, time.Minute, WithEvictionCallback[string](func(key string, _ string) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}))

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")

	// Touch "a" so "b" becomes the LRU entry
	_, _ = c.Get("a")

	_, _ = c.Set("c", "3")

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b"}, evicted)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, 10, 20*time.Millisecond, WithCleanupInterval[string](5*time.Millisecond))

	_, _ = c.Set("a", "1")
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Greater(t, c.Stats().Evictions(), int64(0))
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	c.Clear()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
}

func TestCache_KeysInLRUOrder(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Get("a")

	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats().Summary()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRatio, 0.001)
}

func TestCache_PrometheusMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c := newTestCache(t, 10, time.Minute, WithMetrics[string](registry, "plan_cache"))

	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "fedgateway_cache_hits_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				_, _ = c.Set(key, "v")
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, c.Size())
}
