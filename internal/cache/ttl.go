// ABOUTME: Thread-safe generic TTL cache with size-bounded eviction.
// ABOUTME: Insertion order is tracked in a linked list for O(1) eviction.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default sizing for record caches.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 1000
)

type entry[K comparable, V any] struct {
	value    V
	storedAt time.Time
	element  *list.Element
}

// TTL is a thread-safe cache whose entries expire after a fixed duration.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*entry[K, V]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   uint64
	misses uint64

	done   chan struct{}
	closed bool
}

// New creates a cache. Non-positive arguments fall back to the defaults.
func New[K comparable, V any](ttl time.Duration, maxSize int) *TTL[K, V] {
	return newTTL[K, V](ttl, maxSize, time.Now)
}

func newTTL[K comparable, V any](ttl time.Duration, maxSize int, now func() time.Time) *TTL[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &TTL[K, V]{
		items:   make(map[K]*entry[K, V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		if ok {
			c.removeLocked(key, e)
		}
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the oldest entry if the cache is full.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, exists := c.items[key]; exists {
		e.value = value
		e.storedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &entry[K, V]{value: value, storedAt: now, element: c.order.PushBack(key)}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached. Concurrent misses for the same key may both load.
func (c *TTL[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(key, e)
	}
}

// Purge removes every entry.
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[K, V])
	c.order.Init()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts.
func (c *TTL[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *TTL[K, V]) removeLocked(key K, e *entry[K, V]) {
	c.order.Remove(e.element)
	delete(c.items, key)
}

// evictOldest must be called with mu held.
func (c *TTL[K, V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(K)
	c.order.Remove(front)
	delete(c.items, key)
}

func (c *TTL[K, V]) sweep() {
	interval := c.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *TTL[K, V]) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.items {
		if now.Sub(e.storedAt) >= c.ttl {
			c.removeLocked(key, e)
			removed++
		}
	}
	return removed
}

// Close stops the background sweeper. Safe to call more than once.
func (c *TTL[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
