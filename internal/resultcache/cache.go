// Package resultcache provides the shared in-memory store behind the
// tool-result cache plugin: a thread-safe LRU with per-entry TTL. Expired
// entries are dropped when read; the LRU cap bounds memory for entries that
// are never read again.
package resultcache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a thread-safe in-memory LRU cache with TTL expiration.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	now       func() time.Time
	items     map[string]*list.Element
	evictList *list.List
}

// DefaultCapacity bounds the cache when callers pass a non-positive size.
const DefaultCapacity = 1000

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache { return NewWithClock(capacity, time.Now) }

// NewWithClock creates a Cache with an injectable clock for tests.
func NewWithClock(capacity int, now func() time.Time) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity:  capacity,
		now:       now,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached value for key, or false if missing or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	return ent.value, true
}

// Set stores a value under key for ttl, evicting the least recently used
// entry when the cache is full.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.evictList.MoveToFront(elem)
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		return
	}

	if c.evictList.Len() >= c.capacity {
		c.removeOldest()
	}

	ent := &entry{key: key, value: value, expiresAt: c.now().Add(ttl)}
	elem := c.evictList.PushFront(ent)
	c.items[key] = elem
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of entries currently in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
}

func (c *Cache) removeOldest() {
	if elem := c.evictList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
}
