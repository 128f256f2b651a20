package serv

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evfleet/fleetdb/core"
)

// Default memory cache size (number of entries)
const defaultMemoryCacheSize = 10000

// memoryCacheEntry wraps a cache entry with its collection refs
type memoryCacheEntry struct {
	entry CacheEntry
	refs  []core.CollectionRef
}

// MemoryCache provides in-memory LRU result caching with
// collection-level invalidation
type MemoryCache struct {
	cacheRecorder

	cache      *lru.Cache[string, *memoryCacheEntry]
	conf       CachingConfig
	exclude    map[string]bool
	workerPool *SWRWorkerPool

	// Collection index: physical collection -> set of result keys
	collIndex map[string]map[string]bool
	modTimes  map[string]int64 // physical collection -> modification timestamp (ms)
	mu        sync.RWMutex
}

// NewMemoryCache creates a new in-memory LRU cache
func NewMemoryCache(conf CachingConfig, maxEntries int) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryCacheSize
	}

	mc := &MemoryCache{
		cacheRecorder: newCacheRecorder(),
		conf:          conf,
		exclude:       excludeSet(conf.ExcludeCollections),
		collIndex:     make(map[string]map[string]bool),
		modTimes:      make(map[string]int64),
	}

	cache, err := lru.NewWithEvict[string, *memoryCacheEntry](maxEntries, mc.onEvict)
	if err != nil {
		return nil, err
	}
	mc.cache = cache

	// Initialize SWR worker pool if fresh TTL > 0
	if conf.FreshTTL > 0 {
		mc.workerPool = NewSWRWorkerPool(swrWorkers, mc)
	}
	return mc, nil
}

// Get retrieves cached rows
// Returns (data, isStale, found)
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, bool) {
	entry, ok := mc.cache.Get(key)
	if !ok {
		mc.recordMiss(ctx)
		return nil, false, false
	}

	now := time.Now().Unix()

	// Expired (past hard TTL)
	if now >= entry.entry.StaleUntil {
		mc.cache.Remove(key)
		mc.recordMiss(ctx)
		return nil, false, false
	}

	data, err := entry.entry.payload()
	if err != nil {
		mc.recordError(ctx)
		return nil, false, false
	}

	mc.recordHit(ctx)

	// Check if stale (past soft TTL but before hard TTL)
	isStale := now >= entry.entry.FreshUntil
	return data, isStale, true
}

// Set stores rows and indexes them by the collections they were read from
func (mc *MemoryCache) Set(
	ctx context.Context,
	key string,
	data []byte,
	refs []core.CollectionRef,
	queryStartTime time.Time,
) error {
	if len(data) > maxResultSize || readsExcluded(mc.exclude, refs) {
		return nil
	}

	// Skip results that raced with a write
	if !mc.checkModificationSafety(refs, queryStartTime) {
		return nil
	}

	mc.mu.Lock()
	for _, ref := range refs {
		name := ref.String()
		if mc.collIndex[name] == nil {
			mc.collIndex[name] = make(map[string]bool)
		}
		mc.collIndex[name][key] = true
	}
	mc.mu.Unlock()

	entry, saved := newCacheEntry(mc.conf, data, time.Now())
	mc.cache.Add(key, &memoryCacheEntry{entry: entry, refs: refs})

	// A write may have landed between the check and the add
	if !mc.checkModificationSafety(refs, queryStartTime) {
		mc.cache.Remove(key)
		return nil
	}

	mc.recordStored(ctx, int64(len(entry.Data)), saved)
	return nil
}

// InvalidateCollections drops every entry read from refs
func (mc *MemoryCache) InvalidateCollections(ctx context.Context, refs []core.CollectionRef) error {
	refs = filterExcluded(mc.exclude, refs)
	if len(refs) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	keysToDelete := make(map[string]bool)

	mc.mu.Lock()
	for _, ref := range refs {
		name := ref.String()
		mc.modTimes[name] = now
		for key := range mc.collIndex[name] {
			keysToDelete[key] = true
		}
		delete(mc.collIndex, name)
	}
	mc.mu.Unlock()

	// Remove outside the lock, the eviction callback takes it too
	for key := range keysToDelete {
		mc.cache.Remove(key)
	}

	mc.recordInvalidation(ctx, int64(len(keysToDelete)))
	return nil
}

// TryRefresh hands a stale entry to the SWR workers
func (mc *MemoryCache) TryRefresh(key string, fn core.RefreshFunc) bool {
	if mc.workerPool == nil {
		return false
	}
	return mc.workerPool.TrySubmit(RefreshJob{Key: key, RefreshFn: fn})
}

// checkModificationSafety verifies no collection was written during query
// execution. A write in the same millisecond as the query start counts.
func (mc *MemoryCache) checkModificationSafety(refs []core.CollectionRef, queryStartTime time.Time) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	queryStartMs := queryStartTime.UnixMilli()
	for _, ref := range refs {
		if ts, ok := mc.modTimes[ref.String()]; ok && ts >= queryStartMs {
			return false
		}
	}
	return true
}

// onEvict removes an evicted entry from the collection index
func (mc *MemoryCache) onEvict(key string, entry *memoryCacheEntry) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, ref := range entry.refs {
		name := ref.String()
		if keys, ok := mc.collIndex[name]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(mc.collIndex, name)
			}
		}
	}
}

// Close stops the SWR workers and purges the cache
func (mc *MemoryCache) Close() error {
	if mc.workerPool != nil {
		mc.workerPool.Shutdown()
	}
	mc.cache.Purge()
	return nil
}
