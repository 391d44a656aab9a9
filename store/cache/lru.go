// Package cache provides a generic in-process LRU cache with TTL support.
// It backs the session store (sliding TTL) and the flow definition cache
// (version-keyed invalidation).
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// LRUCache implements an LRU cache with TTL support and generics.
type LRUCache[K comparable, V any] struct {
	cache      map[K]*entry[K, V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	onEvict    func(K, V)
	mu         sync.RWMutex
}

type entry[K comparable, V any] struct {
	expiresAt time.Time
	element   *list.Element
	key       K
	value     V
}

// NewLRUCache creates a new LRU cache.
func NewLRUCache[K comparable, V any](capacity int, defaultTTL time.Duration) *LRUCache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	return &LRUCache[K, V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		cache:      make(map[K]*entry[K, V]),
		order:      list.New(),
	}
}

// OnEvict registers a callback invoked whenever an entry expires or is
// evicted (not on explicit Remove). Used to mark abandoned flow runs.
func (c *LRUCache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get retrieves a value from the cache.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.expireEntry(e)
		var zero V
		return zero, false
	}

	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value in the cache.
func (c *LRUCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	if e, ok := c.cache[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.cache) >= c.capacity {
		c.evictOldest()
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
}

// Touch resets the TTL of an existing entry without changing its value.
// Returns false if the key is absent or already expired.
func (c *LRUCache[K, V]) Touch(key K, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		c.expireEntry(e)
		return false
	}

	e.expiresAt = time.Now().Add(ttl)
	c.order.MoveToFront(e.element)
	return true
}

// Invalidate removes entries matching the pattern.
// Supports * wildcard at the end (e.g., "flow:food_order*").
// Only works for string keys; for other key types, use Remove.
func (c *LRUCache[K, V]) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero K
	if _, isString := any(zero).(string); !isString {
		return 0
	}

	if !strings.Contains(pattern, "*") {
		key := any(pattern).(K) //nolint:errcheck // K verified string above
		if e, ok := c.cache[key]; ok {
			c.removeEntry(e)
			return 1
		}
		return 0
	}

	count := 0
	prefix := strings.TrimSuffix(pattern, "*")
	for key, e := range c.cache {
		if keyStr, ok := any(key).(string); ok {
			if strings.HasPrefix(keyStr, prefix) {
				c.removeEntry(e)
				count++
			}
		}
	}
	return count
}

// Remove removes a specific entry from the cache.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		c.removeEntry(e)
		return true
	}
	return false
}

// Size returns the number of entries in the cache.
func (c *LRUCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear removes all entries from the cache.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[K]*entry[K, V])
	c.order.Init()
}

// CleanupExpired removes all expired entries.
// Returns the number of entries removed.
func (c *LRUCache[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*entry[K, V]
	now := time.Now()
	for _, e := range c.cache {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.expireEntry(e)
	}
	return len(expired)
}

// Contains checks if a key exists and is unexpired (without updating access order).
func (c *LRUCache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.cache[key]; ok {
		return !time.Now().After(e.expiresAt)
	}
	return false
}

// evictOldest removes the least recently used entry. Lock must be held.
func (c *LRUCache[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e, ok := oldest.Value.(*entry[K, V])
	if !ok {
		return
	}
	c.expireEntry(e)
}

// expireEntry removes an entry and fires the eviction callback. Lock must be held.
func (c *LRUCache[K, V]) expireEntry(e *entry[K, V]) {
	c.removeEntry(e)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

// removeEntry removes an entry from the cache. Lock must be held.
func (c *LRUCache[K, V]) removeEntry(e *entry[K, V]) {
	c.order.Remove(e.element)
	delete(c.cache, e.key)
}
