package memory

import (
	"sync"
	"time"

	cm "github.com/swarmworks/hivemind/src/common"
	"github.com/swarmworks/hivemind/src/metrics"
)

// HotCache keeps recently touched entries in memory in front of the durable
// store. It is bounded both by entry count and by aggregate stored payload
// bytes, and it maintains the hit and miss counters. Entries are cached in
// their stored form.
type HotCache struct {
	l       sync.Mutex
	lru     *cm.LRU
	metrics *metrics.Metrics
}

// NewHotCache ...
func NewHotCache(maxCount, maxBytes int, m *metrics.Metrics) (*HotCache, error) {
	sizeOf := func(v interface{}) int {
		return len(v.(*Entry).Payload)
	}

	lru, err := cm.NewLRU(maxCount, maxBytes, sizeOf, nil)
	if err != nil {
		return nil, err
	}

	return &HotCache{
		lru:     lru,
		metrics: m,
	}, nil
}

// Get returns a copy of the cached entry, bumping its cached access count,
// or reports a miss.
func (h *HotCache) Get(namespace, key string) (*Entry, bool) {
	h.l.Lock()
	defer h.l.Unlock()

	v, ok := h.lru.Get(namespace + "/" + key)
	if !ok {
		h.metrics.CacheMiss()
		return nil, false
	}

	entry := v.(*Entry)
	entry.AccessCount++

	h.metrics.CacheHit()

	return entry.Copy(), true
}

// Put caches a copy of the entry, evicting older entries as needed to stay
// within bounds.
func (h *HotCache) Put(entry *Entry) {
	h.l.Lock()
	defer h.l.Unlock()

	evicted := h.lru.Add(entry.CompositeKey(), entry.Copy())
	h.metrics.CacheEvicted("capacity", evicted)
}

// Remove drops an entry from the cache.
func (h *HotCache) Remove(namespace, key string) {
	h.l.Lock()
	defer h.l.Unlock()

	h.lru.Remove(namespace + "/" + key)
}

// EvictIdle drops entries untouched since the cutoff and returns how many
// were dropped.
func (h *HotCache) EvictIdle(cutoff time.Time) int {
	h.l.Lock()
	defer h.l.Unlock()

	evicted := h.lru.EvictIdle(cutoff)
	h.metrics.CacheEvicted("idle", evicted)

	return evicted
}

// Purge empties the cache.
func (h *HotCache) Purge() {
	h.l.Lock()
	defer h.l.Unlock()

	h.lru.Purge()
}

// Stats returns the cumulative hit and miss counts along with the current
// entry count and byte weight.
func (h *HotCache) Stats() (hits uint64, misses uint64, length int, bytes int) {
	h.l.Lock()
	defer h.l.Unlock()

	hits, misses = h.lru.Stats()

	return hits, misses, h.lru.Len(), h.lru.Bytes()
}
