package serv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evfleet/fleetdb/core"
)

// Hardcoded constants for redis behavior
const (
	cachePrefix        = "fleetdb:cache"        // Redis key prefix
	redisTimeout       = 100 * time.Millisecond // Redis operation timeout
	redisRetryInterval = 30 * time.Second       // Retry interval when Redis unavailable
)

// Redis key prefixes
const (
	resKeyPrefix  = "res:"
	collKeyPrefix = "coll:"
	modKeyPrefix  = "mod:"
)

// RedisCache provides Redis-based result caching with collection-level
// invalidation
type RedisCache struct {
	cacheRecorder

	client     *redis.Client
	conf       CachingConfig
	workerPool *SWRWorkerPool
	available  atomic.Bool
	lastCheck  atomic.Int64
	exclude    map[string]bool
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(redisURL string, conf CachingConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisCache(client, conf), nil
}

func newRedisCache(client *redis.Client, conf CachingConfig) *RedisCache {
	rc := &RedisCache{
		cacheRecorder: newCacheRecorder(),
		client:        client,
		conf:          conf,
		exclude:       excludeSet(conf.ExcludeCollections),
	}
	rc.available.Store(true)

	// Initialize SWR worker pool if fresh TTL > 0
	if conf.FreshTTL > 0 {
		rc.workerPool = NewSWRWorkerPool(swrWorkers, rc)
	}
	return rc
}

// Key building methods
func (c *RedisCache) resKey(hash string) string {
	return cachePrefix + ":" + resKeyPrefix + hash
}

func (c *RedisCache) collKey(ref core.CollectionRef) string {
	return cachePrefix + ":" + collKeyPrefix + ref.String()
}

func (c *RedisCache) modKey(ref core.CollectionRef) string {
	return cachePrefix + ":" + modKeyPrefix + ref.String()
}

// Get retrieves cached rows
// Returns (data, isStale, found)
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, bool) {
	if !c.isAvailable() {
		c.maybeRetryConnection()
		return nil, false, false
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.resKey(key)).Bytes()
	if err == redis.Nil {
		c.recordMiss(ctx)
		return nil, false, false
	}
	if err != nil {
		c.handleError(err)
		c.recordMiss(ctx)
		return nil, false, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.recordMiss(ctx)
		return nil, false, false
	}

	now := time.Now().Unix()

	// Expired (past hard TTL)
	if now >= entry.StaleUntil {
		c.recordMiss(ctx)
		return nil, false, false
	}

	data, err := entry.payload()
	if err != nil {
		c.recordError(ctx)
		return nil, false, false
	}

	c.recordHit(ctx)

	// Check if stale (past soft TTL but before hard TTL)
	isStale := now >= entry.FreshUntil
	return data, isStale, true
}

// Set stores rows and indexes them by the collections they were read from
func (c *RedisCache) Set(
	ctx context.Context,
	key string,
	data []byte,
	refs []core.CollectionRef,
	queryStartTime time.Time,
) error {
	if !c.isAvailable() || len(data) > maxResultSize || readsExcluded(c.exclude, refs) {
		return nil
	}

	// Skip results that raced with a write
	if len(refs) > 0 {
		safe, err := c.checkModificationSafety(ctx, refs, queryStartTime)
		if err != nil || !safe {
			return err
		}
	}

	entry, saved := newCacheEntry(c.conf, data, time.Now())
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl, _ := c.conf.ttls()

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.resKey(key), entryJSON, ttl)
	for _, ref := range refs {
		collKey := c.collKey(ref)
		pipe.SAdd(ctx, collKey, key)
		pipe.Expire(ctx, collKey, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err)
		c.recordError(ctx)
		return err
	}

	c.recordStored(ctx, int64(len(entryJSON)), saved)
	return nil
}

// InvalidateCollections drops every entry read from refs (called after writes)
func (c *RedisCache) InvalidateCollections(ctx context.Context, refs []core.CollectionRef) error {
	if !c.isAvailable() {
		return nil
	}

	refs = filterExcluded(c.exclude, refs)
	if len(refs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout*2) // Allow more time for invalidation
	defer cancel()

	now := time.Now().UnixMilli()
	ttl, _ := c.conf.ttls()

	// Record modification timestamps first
	pipe := c.client.Pipeline()
	for _, ref := range refs {
		pipe.Set(ctx, c.modKey(ref), now, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err)
		return err
	}

	// Collect all result hashes to invalidate
	hashesToDelete := make(map[string]bool)
	for _, ref := range refs {
		hashes, err := c.client.SMembers(ctx, c.collKey(ref)).Result()
		if err != nil && err != redis.Nil {
			continue
		}
		for _, hash := range hashes {
			hashesToDelete[hash] = true
		}
	}

	if len(hashesToDelete) == 0 {
		return nil
	}

	pipe = c.client.Pipeline()
	for hash := range hashesToDelete {
		pipe.Del(ctx, c.resKey(hash))
	}
	for _, ref := range refs {
		pipe.Del(ctx, c.collKey(ref))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err)
		c.recordError(ctx)
		return err
	}

	c.recordInvalidation(ctx, int64(len(hashesToDelete)))
	return nil
}

// TryRefresh hands a stale entry to the SWR workers
func (c *RedisCache) TryRefresh(key string, fn core.RefreshFunc) bool {
	if c.workerPool == nil || !c.isAvailable() {
		return false
	}
	return c.workerPool.TrySubmit(RefreshJob{Key: key, RefreshFn: fn})
}

// checkModificationSafety verifies no collection was written during query
// execution. A write in the same millisecond as the query start counts.
func (c *RedisCache) checkModificationSafety(
	ctx context.Context,
	refs []core.CollectionRef,
	queryStartTime time.Time,
) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(refs))

	for i, ref := range refs {
		cmds[i] = pipe.Get(ctx, c.modKey(ref))
	}

	_, _ = pipe.Exec(ctx)

	queryStartMs := queryStartTime.UnixMilli()
	for _, cmd := range cmds {
		if ts, err := cmd.Int64(); err == nil && ts >= queryStartMs {
			return false, nil
		}
	}

	return true, nil
}

// Availability management
func (c *RedisCache) isAvailable() bool {
	return c.available.Load()
}

func (c *RedisCache) handleError(err error) {
	if err != nil {
		c.available.Store(false)
		c.lastCheck.Store(time.Now().Unix())
	}
}

func (c *RedisCache) maybeRetryConnection() {
	if c.isAvailable() {
		return
	}

	lastCheck := c.lastCheck.Load()
	if time.Now().Unix()-lastCheck < int64(redisRetryInterval.Seconds()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err == nil {
		c.available.Store(true)
	}
	c.lastCheck.Store(time.Now().Unix())
}

// Ping checks that the server answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection and worker pool
func (c *RedisCache) Close() error {
	if c.workerPool != nil {
		c.workerPool.Shutdown()
	}
	return c.client.Close()
}
