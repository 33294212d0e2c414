package fetch

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached acquisition. Valid iff now-Timestamp < TTL.
type entry struct {
	Timestamp   time.Time
	TTL         time.Duration
	Bytes       []byte
	ContentType string
	ExactType   bool
}

func (e *entry) valid(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}

// memCache is the bounded in-process tier. Overflow evicts the least
// recently used entry; an expired read is a miss and is purged lazily.
type memCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[Key]*list.Element
}

type memItem struct {
	key Key
	ent *entry
}

func newMemCache(capacity int) *memCache {
	return &memCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[Key]*list.Element),
	}
}

func (c *memCache) get(key Key, now time.Time) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*memItem)
	if !item.ent.valid(now) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return item.ent, true
}

func (c *memCache) put(key Key, ent *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*memItem).ent = ent
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&memItem{key: key, ent: ent})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memItem).key)
	}
}

func (c *memCache) delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

func (c *memCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[Key]*list.Element)
}

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
