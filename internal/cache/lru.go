// Package cache holds the small bounded caches that let squeezr skip repeated
// work: encoder parameter guesses and probed asset metadata.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

type entry[K comparable, V any] struct {
	key     K
	value   V
	written time.Time
}

// TTLCache is a bounded map whose entries expire ttl after their last
// write. When full, the entry written longest ago is evicted. Reads do not
// refresh an entry's rank. It is safe for concurrent use.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     Clock
	order   *list.List // front = most recently written
	entries map[K]*list.Element
}

// NewTTLCache creates a cache. maxEntries < 1 is treated as 1; ttl <= 0
// disables expiry.
func NewTTLCache[K comparable, V any](maxEntries int, ttl time.Duration, clock Clock) *TTLCache[K, V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &TTLCache[K, V]{
		ttl:     ttl,
		max:     maxEntries,
		now:     clock,
		order:   list.New(),
		entries: make(map[K]*list.Element, maxEntries),
	}
}

func (c *TTLCache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.written) >= c.ttl
}

// Get returns the live value for key. An expired entry is removed.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, c.now()) {
		c.remove(el)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key and ranks it as most recently written.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.Update(key, func(V, bool) V { return value })
}

// Update replaces the value for key with fn(current, found) under the lock.
// Expired entries are passed as not found.
func (c *TTLCache[K, V]) Update(key K, fn func(current V, found bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		if c.expired(e, now) {
			var zero V
			e.value = fn(zero, false)
		} else {
			e.value = fn(e.value, true)
		}
		e.written = now
		c.order.MoveToFront(el)
		return e.value
	}

	var zero V
	e := &entry[K, V]{key: key, value: fn(zero, false), written: now}
	c.entries[key] = c.order.PushFront(e)
	for c.order.Len() > c.max {
		c.remove(c.order.Back())
	}
	return e.value
}

// Delete drops key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Purge removes every expired entry and returns how many were dropped.
func (c *TTLCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[K, V]), now) {
			c.remove(el)
			n++
		}
		el = prev
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *TTLCache[K, V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.entries, e.key)
}
