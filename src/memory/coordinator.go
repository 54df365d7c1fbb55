package memory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	cm "github.com/swarmworks/hivemind/src/common"
	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/metrics"
	"github.com/swarmworks/hivemind/src/notify"
)

var timeNow = time.Now

// Coordinator mediates every read and write against the memory store. It
// owns the hot cache, enforces payload limits and retention, and keeps one
// live entry per (namespace, key) with a monotonic version.
type Coordinator struct {
	// writeLock serializes all mutations so version numbers never race.
	writeLock sync.Mutex

	store Store
	cache *HotCache

	maxPayload int
	scanLimit  int
	staleness  time.Duration

	// dirtyAccess accumulates cache-hit access counts per composite key
	// until FlushAccess folds them into the store.
	dirtyLock   sync.Mutex
	dirtyAccess map[string]int

	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

// NewCoordinator builds a Coordinator over the given store, with a hot
// cache sized from the configuration.
func NewCoordinator(
	conf *config.Config,
	store Store,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	logger *logrus.Entry,
) (*Coordinator, error) {
	cache, err := NewHotCache(conf.CacheSize, conf.CacheBytes, m)
	if err != nil {
		return nil, fmt.Errorf("creating hot cache: %v", err)
	}

	return &Coordinator{
		store:       store,
		cache:       cache,
		maxPayload:  conf.MaxPayload,
		scanLimit:   conf.ConsolidationScanLimit,
		staleness:   conf.CacheStaleness,
		dirtyAccess: make(map[string]int),
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
	}, nil
}

func validateKeys(namespace, key string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is empty")
	}
	if strings.Contains(namespace, "/") {
		return fmt.Errorf("namespace %q contains '/'", namespace)
	}
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	return nil
}

// Store writes payload under (namespace, key). An existing live entry is
// superseded in place: its ID and CreatedAt carry over and its version is
// incremented. An expired or absent entry yields a fresh entry at version 1.
// The returned entry is a decoded copy.
func (c *Coordinator) Store(
	namespace, key string,
	payload []byte,
	memType MemoryType,
	confidence float64,
	metadata map[string]string,
) (*Entry, error) {
	if err := validateKeys(namespace, key); err != nil {
		return nil, err
	}

	if len(payload) > c.maxPayload {
		c.metrics.RecordOp("store", "rejected")
		return nil, cm.NewStoreErr("entry",
			cm.PayloadTooLarge,
			fmt.Sprintf("%s/%s (%d bytes)", namespace, key, len(payload)))
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	entry, err := c.putLocked(namespace, key, payload, memType, confidence, metadata)
	if err != nil {
		c.metrics.RecordOp("store", "error")
		return nil, err
	}

	return entry, nil
}

// putLocked performs the upsert. Callers hold writeLock and have already
// validated keys and payload size.
func (c *Coordinator) putLocked(
	namespace, key string,
	payload []byte,
	memType MemoryType,
	confidence float64,
	metadata map[string]string,
) (*Entry, error) {
	now := timeNow().UTC()
	composite := namespace + "/" + key

	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		Namespace:  namespace,
		Key:        key,
		Type:       memType,
		Confidence: confidence,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if len(metadata) > 0 {
		entry.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			entry.Metadata[k] = v
		}
	}

	existing, err := c.store.PeekEntry(namespace, key)
	if err != nil && !cm.IsStore(err, cm.KeyNotFound) {
		return nil, err
	}

	if existing != nil && !existing.Expired(now) {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
		entry.Version = existing.Version + 1
		entry.AccessCount = existing.AccessCount + c.takeDirty(composite)
	} else {
		// An expired row is replaced outright, and any pending access
		// bumps belong to the dead entry.
		c.takeDirty(composite)
	}

	stored, compressed := payload, false
	if RetentionFor(memType).Compress {
		stored, compressed = compressPayload(payload)
	}
	entry.Payload = stored
	entry.Compressed = compressed
	entry.Size = len(stored)

	if err := c.store.SetEntry(entry); err != nil {
		return nil, err
	}

	// Cache only after the durable write succeeded.
	c.cache.Put(entry)

	c.metrics.RecordOp("store", "ok")
	c.metrics.RecordWrite(string(memType), len(payload))

	c.notifier.Emit(notify.Event{
		Kind:      notify.EntryStored,
		Namespace: namespace,
		Key:       key,
		Detail: map[string]string{
			"type":    string(memType),
			"version": strconv.Itoa(entry.Version),
		},
	})

	c.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"key":       key,
		"type":      memType,
		"version":   entry.Version,
		"size":      entry.Size,
	}).Debug("Stored entry")

	decoded := entry.Copy()
	decoded.Payload = append([]byte{}, payload...)
	decoded.Compressed = false

	return decoded, nil
}

// Retrieve returns a decoded copy of the live entry under (namespace, key),
// or (nil, nil) when no live entry exists. Cache hits bump the access count
// in memory only; FlushAccess folds those bumps into the store later.
func (c *Coordinator) Retrieve(namespace, key string) (*Entry, error) {
	if err := validateKeys(namespace, key); err != nil {
		return nil, err
	}

	now := timeNow().UTC()

	if cached, ok := c.cache.Get(namespace, key); ok {
		if cached.Expired(now) {
			c.expireNow(cached)
			c.metrics.RecordOp("retrieve", "not_found")
			return nil, nil
		}

		c.addDirty(namespace+"/"+key, 1)
		c.metrics.RecordOp("retrieve", "ok")

		return cached.Decoded()
	}

	entry, err := c.store.GetEntry(namespace, key)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			c.metrics.RecordOp("retrieve", "not_found")
			return nil, nil
		}
		c.metrics.RecordOp("retrieve", "error")
		return nil, err
	}

	if entry.Expired(now) {
		c.expireNow(entry)
		c.metrics.RecordOp("retrieve", "not_found")
		return nil, nil
	}

	c.fillCache(entry)
	c.metrics.RecordOp("retrieve", "ok")

	return entry.Decoded()
}

// fillCache installs an entry read outside writeLock. The store is checked
// again under the lock, so a write that landed during the read is never
// shadowed by the older row.
func (c *Coordinator) fillCache(e *Entry) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	current, err := c.store.PeekEntry(e.Namespace, e.Key)
	if err != nil || current.Version != e.Version {
		return
	}

	c.cache.Put(e)
}

// Delete removes the entry under (namespace, key). It returns false when no
// entry existed.
func (c *Coordinator) Delete(namespace, key string) (bool, error) {
	if err := validateKeys(namespace, key); err != nil {
		return false, err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.store.DeleteEntry(namespace, key); err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			c.metrics.RecordOp("delete", "not_found")
			return false, nil
		}
		c.metrics.RecordOp("delete", "error")
		return false, err
	}

	c.cache.Remove(namespace, key)
	c.takeDirty(namespace + "/" + key)
	c.metrics.RecordOp("delete", "ok")

	return true, nil
}

// Search scans the namespace and returns decoded copies of live entries
// matching the options, ranked and capped per the options.
func (c *Coordinator) Search(namespace string, opts SearchOptions) ([]*Entry, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is empty")
	}

	now := timeNow().UTC()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	scored := []scoredEntry{}
	err := c.store.ScanEntries(namespace, func(e *Entry) bool {
		if e.Expired(now) {
			return true
		}
		if e.SupersededBy != "" && !opts.IncludeSuperseded {
			return true
		}
		if len(opts.Types) > 0 && !containsType(opts.Types, e.Type) {
			return true
		}

		ok, score := matchScore(opts.Pattern, e.Key)
		if !ok {
			return true
		}

		scored = append(scored, scoredEntry{entry: e, score: score})

		return true
	})
	if err != nil {
		c.metrics.RecordOp("search", "error")
		return nil, err
	}

	sortResults(scored, opts.SortBy)

	if len(scored) > limit {
		scored = scored[:limit]
	}

	res := make([]*Entry, len(scored))
	for i, se := range scored {
		decoded, err := se.entry.Decoded()
		if err != nil {
			c.metrics.RecordOp("search", "error")
			return nil, err
		}
		res[i] = decoded
	}

	c.metrics.RecordOp("search", "ok")

	return res, nil
}

func containsType(types []MemoryType, t MemoryType) bool {
	for _, mt := range types {
		if mt == t {
			return true
		}
	}
	return false
}

// CollectExpired removes every entry whose retention has lapsed. It returns
// the number of entries removed.
func (c *Coordinator) CollectExpired() (int, error) {
	c.FlushAccess()

	now := timeNow().UTC()

	expired := []*Entry{}
	err := c.store.ScanEntries("", func(e *Entry) bool {
		if e.Expired(now) {
			expired = append(expired, e)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	removed := 0
	for _, e := range expired {
		if err := c.store.DeleteEntry(e.Namespace, e.Key); err != nil {
			if !cm.IsStore(err, cm.KeyNotFound) {
				c.logger.WithField("error", err).Errorf("Removing expired entry %s", e.CompositeKey())
			}
			continue
		}

		c.cache.Remove(e.Namespace, e.Key)
		c.takeDirty(e.CompositeKey())

		removed++
		c.metrics.RecordGC(string(e.Type), 1)

		c.notifier.Emit(notify.Event{
			Kind:      notify.EntryExpired,
			Namespace: e.Namespace,
			Key:       e.Key,
			Detail:    map[string]string{"type": string(e.Type)},
		})
	}

	if removed > 0 {
		c.logger.WithField("removed", removed).Debug("Collected expired entries")
	}

	return removed, nil
}

// expireNow removes a single entry found expired during a read.
func (c *Coordinator) expireNow(e *Entry) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.store.DeleteEntry(e.Namespace, e.Key); err != nil {
		if !cm.IsStore(err, cm.KeyNotFound) {
			c.logger.WithField("error", err).Errorf("Removing expired entry %s", e.CompositeKey())
			return
		}
	}

	c.cache.Remove(e.Namespace, e.Key)
	c.takeDirty(e.CompositeKey())

	c.metrics.RecordGC(string(e.Type), 1)

	c.notifier.Emit(notify.Event{
		Kind:      notify.EntryExpired,
		Namespace: e.Namespace,
		Key:       e.Key,
		Detail:    map[string]string{"type": string(e.Type)},
	})
}

// EvictIdleCache drops cached entries not touched within the configured
// staleness window. It returns the number of entries evicted.
func (c *Coordinator) EvictIdleCache() int {
	return c.cache.EvictIdle(timeNow().Add(-c.staleness))
}

func (c *Coordinator) addDirty(composite string, n int) {
	c.dirtyLock.Lock()
	c.dirtyAccess[composite] += n
	c.dirtyLock.Unlock()
}

func (c *Coordinator) takeDirty(composite string) int {
	c.dirtyLock.Lock()
	defer c.dirtyLock.Unlock()

	n := c.dirtyAccess[composite]
	delete(c.dirtyAccess, composite)

	return n
}

// FlushAccess folds cache-hit access counts into the store. It returns the
// number of keys flushed.
func (c *Coordinator) FlushAccess() int {
	c.dirtyLock.Lock()
	pending := c.dirtyAccess
	c.dirtyAccess = make(map[string]int)
	c.dirtyLock.Unlock()

	flushed := 0
	for composite, n := range pending {
		parts := strings.SplitN(composite, "/", 2)
		if len(parts) != 2 {
			continue
		}

		if err := c.store.BumpAccess(parts[0], parts[1], n); err != nil {
			c.logger.WithField("error", err).Errorf("Flushing access count for %s", composite)
			continue
		}

		flushed++
	}

	return flushed
}

// Stats returns a snapshot of store and cache counters.
func (c *Coordinator) Stats() map[string]string {
	hits, misses, cacheLen, cacheBytes := c.cache.Stats()

	count, err := c.store.EntryCount()
	if err != nil {
		c.logger.WithField("error", err).Error("Counting entries")
	}

	sizes := []int64{}
	if err := c.store.ScanEntries("", func(e *Entry) bool {
		sizes = append(sizes, int64(e.Size))
		return true
	}); err != nil {
		c.logger.WithField("error", err).Error("Scanning entry sizes")
	}

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	c.dirtyLock.Lock()
	pending := len(c.dirtyAccess)
	c.dirtyLock.Unlock()

	return map[string]string{
		"entries":              strconv.Itoa(count),
		"cache_entries":        strconv.Itoa(cacheLen),
		"cache_bytes":          strconv.Itoa(cacheBytes),
		"cache_hits":           strconv.FormatUint(hits, 10),
		"cache_misses":         strconv.FormatUint(misses, 10),
		"cache_hit_rate":       strconv.FormatFloat(hitRate, 'f', 2, 64),
		"median_entry_bytes":   strconv.FormatInt(cm.Median(sizes), 10),
		"pending_access_flush": strconv.Itoa(pending),
		"store_path":           c.store.StorePath(),
	}
}

// Close flushes pending access counts and closes the underlying store.
func (c *Coordinator) Close() error {
	c.FlushAccess()
	return c.store.Close()
}
