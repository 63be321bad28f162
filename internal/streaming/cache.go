package streaming

import (
	"container/list"
	"sync"

	"github.com/Faultbox/midgard-hlod/internal/hlod"
)

// Cache keeps loaded objects by key. An object handed to a node is pinned;
// a released object stays cached, least recently released first out, until
// more than capacity released objects are kept.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*cacheEntry
	lru      *list.List
	capacity int
	onEvict  func(Key, hlod.Object)

	// Stats
	hits      int
	misses    int
	evictions int
}

type cacheEntry struct {
	key    Key
	obj    hlod.Object
	pinned bool
	elem   *list.Element
}

// NewCache creates a cache that keeps at most capacity released objects.
// onEvict, if set, runs for every object that leaves the cache.
func NewCache(capacity int, onEvict func(Key, hlod.Object)) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{
		entries:  make(map[Key]*cacheEntry),
		lru:      list.New(),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Acquire pins and returns the object for k.
func (c *Cache) Acquire(k Key) (hlod.Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.pin(e)
	return e.obj, true
}

// Put stores obj under k as pinned. A different object already stored
// under k is evicted.
func (c *Cache) Put(k Key, obj hlod.Object) {
	var evicted []*cacheEntry

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		if e.obj == obj {
			c.pin(e)
			c.mu.Unlock()
			return
		}
		c.remove(e)
		evicted = append(evicted, e)
	}
	c.entries[k] = &cacheEntry{key: k, obj: obj, pinned: true}
	c.mu.Unlock()

	c.evict(evicted)
}

// Offer stores obj under k as released unless k is already cached. It
// reports whether obj was stored.
func (c *Cache) Offer(k Key, obj hlod.Object) bool {
	c.mu.Lock()
	if _, ok := c.entries[k]; ok {
		c.mu.Unlock()
		return false
	}
	e := &cacheEntry{key: k, obj: obj}
	e.elem = c.lru.PushBack(e)
	c.entries[k] = e
	evicted := c.trim()
	c.mu.Unlock()

	c.evict(evicted)
	return true
}

// Get returns the object for k without pinning it or touching the stats.
func (c *Cache) Get(k Key) (hlod.Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Release unpins k. It reports whether k was cached.
func (c *Cache) Release(k Key) bool {
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if e.pinned {
		e.pinned = false
		e.elem = c.lru.PushBack(e)
	}
	evicted := c.trim()
	c.mu.Unlock()

	c.evict(evicted)
	return true
}

// Clear evicts everything, pinned or not, and resets the stats.
func (c *Cache) Clear() {
	c.mu.Lock()
	evicted := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		evicted = append(evicted, e)
	}
	c.entries = make(map[Key]*cacheEntry)
	c.lru.Init()
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mu.Unlock()

	for _, e := range evicted {
		if c.onEvict != nil {
			c.onEvict(e.key, e.obj)
		}
	}
}

// Len returns the number of cached objects.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses, evictions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

func (c *Cache) pin(e *cacheEntry) {
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	e.pinned = true
}

func (c *Cache) remove(e *cacheEntry) {
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	delete(c.entries, e.key)
	c.evictions++
}

// trim drops the least recently released entries beyond capacity.
func (c *Cache) trim() []*cacheEntry {
	var evicted []*cacheEntry
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Front().Value.(*cacheEntry)
		c.remove(oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

func (c *Cache) evict(entries []*cacheEntry) {
	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.key, e.obj)
	}
}
