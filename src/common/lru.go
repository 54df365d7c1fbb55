package common

import (
	"container/list"
	"errors"
	"time"
)

var timeNow = time.Now

// EvictCallback is used to get a callback when a cache entry is evicted
type EvictCallback func(key string, value interface{})

// SizeFunc reports the weight of a cached value in bytes. It is used to
// enforce the aggregate byte bound.
type SizeFunc func(value interface{}) int

type lruItem struct {
	key     string
	value   interface{}
	size    int
	touched time.Time
}

// LRU implements a fixed-bound LRU cache with two limits: a maximum number of
// entries and a maximum aggregate byte weight. Inserting over either limit
// evicts least-recently-used entries until both hold again. It is not safe
// for concurrent use; callers synchronize around it.
type LRU struct {
	maxCount  int
	maxBytes  int
	bytes     int
	evictList *list.List
	items     map[string]*list.Element
	sizeOf    SizeFunc
	onEvict   EvictCallback

	hits   uint64
	misses uint64
}

// NewLRU constructs an LRU with the given bounds. maxCount must be positive.
// A maxBytes of 0 disables the byte bound, as does a nil sizeOf.
func NewLRU(maxCount int, maxBytes int, sizeOf SizeFunc, onEvict EvictCallback) (*LRU, error) {
	if maxCount <= 0 {
		return nil, errors.New("must provide a positive count bound")
	}
	c := &LRU{
		maxCount:  maxCount,
		maxBytes:  maxBytes,
		evictList: list.New(),
		items:     make(map[string]*list.Element),
		sizeOf:    sizeOf,
		onEvict:   onEvict,
	}
	return c, nil
}

// Purge is used to completely clear the cache.
func (c *LRU) Purge() {
	for k, v := range c.items {
		if c.onEvict != nil {
			c.onEvict(k, v.Value.(*lruItem).value)
		}
		delete(c.items, k)
	}
	c.evictList.Init()
	c.bytes = 0
}

// Add adds a value to the cache and returns the number of entries evicted to
// stay within bounds. A value that alone exceeds the byte bound is not cached
// at all; any previous value under the same key is removed.
func (c *LRU) Add(key string, value interface{}) int {
	sz := 0
	if c.sizeOf != nil {
		sz = c.sizeOf(value)
	}

	if c.maxBytes > 0 && sz > c.maxBytes {
		c.Remove(key)
		return 0
	}

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		item := ent.Value.(*lruItem)
		c.bytes += sz - item.size
		item.value = value
		item.size = sz
		item.touched = timeNow()
		return c.shrink()
	}

	ent := c.evictList.PushFront(&lruItem{
		key:     key,
		value:   value,
		size:    sz,
		touched: timeNow(),
	})
	c.items[key] = ent
	c.bytes += sz

	return c.shrink()
}

// Get looks up a key's value and promotes it to most recently used. It also
// maintains the cumulative hit and miss counters.
func (c *LRU) Get(key string) (interface{}, bool) {
	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		item := ent.Value.(*lruItem)
		item.touched = timeNow()
		c.hits++
		return item.value, true
	}
	c.misses++
	return nil, false
}

// Contains checks if a key is in the cache, without updating recency or
// counters.
func (c *LRU) Contains(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Peek returns the value without updating recency or counters.
func (c *LRU) Peek(key string) (interface{}, bool) {
	if ent, ok := c.items[key]; ok {
		return ent.Value.(*lruItem).value, true
	}
	return nil, false
}

// Remove removes the provided key from the cache, returning if the key was
// contained.
func (c *LRU) Remove(key string) bool {
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
		return true
	}
	return false
}

// EvictIdle removes entries that have not been touched since the cutoff and
// returns how many were removed.
func (c *LRU) EvictIdle(cutoff time.Time) int {
	removed := 0
	for {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		if !ent.Value.(*lruItem).touched.Before(cutoff) {
			break
		}
		c.removeElement(ent)
		removed++
	}
	return removed
}

// Keys returns a slice of the keys in the cache, from oldest to newest.
func (c *LRU) Keys() []string {
	keys := make([]string, len(c.items))
	i := 0
	for ent := c.evictList.Back(); ent != nil; ent = ent.Prev() {
		keys[i] = ent.Value.(*lruItem).key
		i++
	}
	return keys
}

// Len returns the number of items in the cache.
func (c *LRU) Len() int {
	return c.evictList.Len()
}

// Bytes returns the aggregate byte weight of cached values.
func (c *LRU) Bytes() int {
	return c.bytes
}

// Stats returns the cumulative hit and miss counts.
func (c *LRU) Stats() (hits uint64, misses uint64) {
	return c.hits, c.misses
}

func (c *LRU) shrink() int {
	evicted := 0
	for c.evictList.Len() > c.maxCount || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
		evicted++
	}
	return evicted
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	item := e.Value.(*lruItem)
	delete(c.items, item.key)
	c.bytes -= item.size
	if c.onEvict != nil {
		c.onEvict(item.key, item.value)
	}
}
