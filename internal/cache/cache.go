package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a small in-memory TTL cache.
type Cache[V any] struct {
	items map[string]item[V]
	mutex sync.Mutex
	now   func() time.Time
}

// New creates a new cache instance
func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]item[V]),
		now:   time.Now,
	}
}

// Get returns the value for key. Expired entries are dropped on read.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	it, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if c.now().After(it.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for ttl.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(ttl)}
}
