// Package cache is a small TTL-bounded key/value store used for every
// short-lived read model: per-question stats, session summaries and the
// session-status lookups made by connection heartbeats.
package cache

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

type Cache[K comparable, V any] struct {
	ttl   time.Duration
	items *ttlcache.Cache[K, V]
	loads singleflight.Group
}

// New creates a cache whose entries live for ttl. A zero ttl disables caching:
// Set becomes a no-op and every Get misses.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl: ttl,
		items: ttlcache.New[K, V](
			ttlcache.WithTTL[K, V](ttl),
			ttlcache.WithDisableTouchOnHit[K, V](),
		),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.items.Delete(key)
}

// InvalidateWhere drops every key matching pred.
func (c *Cache[K, V]) InvalidateWhere(pred func(K) bool) {
	for _, k := range c.items.Keys() {
		if pred(k) {
			c.items.Delete(k)
		}
	}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Concurrent misses on one key share a single load. Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(fmt.Sprint(key), func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Purge removes expired entries.
func (c *Cache[K, V]) Purge() {
	c.items.DeleteExpired()
}

func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}
