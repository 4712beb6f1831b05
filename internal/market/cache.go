package market

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded TTL cache with LRU eviction. Two instances back the
// engine: a short-TTL one for last prices and a longer-TTL one for klines.
// An entry is visible only while now - insertedAt <= ttl; a lookup past the
// TTL removes the entry and reports a miss. When the key count would exceed
// maxKeys, the least recently used entry is evicted first.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxKeys int
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   int64
	misses int64

	now func() time.Time
}

type cacheEntry struct {
	key        string
	value      interface{}
	insertedAt time.Time
}

// NewCache creates a cache holding at most maxKeys entries for ttl each
func NewCache(ttl time.Duration, maxKeys int) *Cache {
	return &Cache{
		ttl:     ttl,
		maxKeys: maxKeys,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or false on a miss.
// Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set stores a value, replacing any existing entry and evicting the
// least recently used entry if the cache is full
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.insertedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxKeys {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value, insertedAt: c.now()})
	c.entries[key] = elem
}

// Delete removes a key if present
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the current entry count
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit/miss counters since creation
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
