package core

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core/pipeline"
)

const refreshTimeout = 30 * time.Second

// CollectionRef names a tenant collection a cached result was read from.
type CollectionRef struct {
	Tenant     string
	Collection string
}

// String returns the physical collection name.
func (r CollectionRef) String() string {
	return r.Tenant + "." + r.Collection
}

// ParseCollectionRef splits a physical collection name.
func ParseCollectionRef(name string) CollectionRef {
	tenant, coll, ok := strings.Cut(name, ".")
	if !ok {
		return CollectionRef{Tenant: pipeline.DefaultTenantID, Collection: name}
	}
	return CollectionRef{Tenant: tenant, Collection: coll}
}

// ResultCacheProvider defines the interface for result caching.
// This is implemented by the service layer (serv package) with memory
// and Redis backends and collection-level invalidation.
type ResultCacheProvider interface {
	// Get retrieves cached rows by key.
	// Returns (data, isStale, found). isStale is true if the entry is past soft TTL (SWR).
	Get(ctx context.Context, key string) (data []byte, isStale bool, found bool)

	// Set stores rows together with the collections they were read from.
	// queryStartTime is used to skip results that raced with a write.
	Set(ctx context.Context, key string, data []byte, refs []CollectionRef, queryStartTime time.Time) error

	// InvalidateCollections drops every entry that read one of refs.
	// Called after writes.
	InvalidateCollections(ctx context.Context, refs []CollectionRef) error
}

// RefreshFunc reloads a stale entry.
type RefreshFunc func() ([]byte, []CollectionRef, error)

// Refresher is implemented by caches that reload stale entries in the
// background. TryRefresh reports whether the job was accepted.
type Refresher interface {
	TryRefresh(key string, fn RefreshFunc) bool
}

// collectionRefs lists the base collection and every joined one.
func collectionRefs(name string, p pipeline.Pipeline) []CollectionRef {
	refs := []CollectionRef{ParseCollectionRef(name)}
	for _, j := range p.Joined() {
		if j != name {
			refs = append(refs, ParseCollectionRef(j))
		}
	}
	return refs
}

func (db *DB) store(ctx context.Context, name string, p pipeline.Pipeline, rows []bson.Raw, start time.Time) {
	if db.cache == nil {
		return
	}
	key := BuildCacheKey(name, p.Documents())
	if key == "" {
		return
	}
	data, err := encodeRows(rows)
	if err != nil {
		db.log.Warn("encode rows for cache", zap.String("collection", name), zap.Error(err))
		return
	}
	if err := db.cache.Set(ctx, key, data, collectionRefs(name, p), start); err != nil {
		db.log.Warn("cache set", zap.String("collection", name), zap.Error(err))
	}
}

// refresh hands a stale entry to the cache's background workers. It
// returns false when the cache cannot refresh, in which case the caller
// reads through.
func (db *DB) refresh(key, name string, p pipeline.Pipeline) bool {
	r, ok := db.cache.(Refresher)
	if !ok {
		return false
	}
	return r.TryRefresh(key, func() ([]byte, []CollectionRef, error) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		rows, err := db.exec.Aggregate(ctx, name, p.Documents())
		if err != nil {
			return nil, nil, err
		}
		data, err := encodeRows(rows)
		if err != nil {
			return nil, nil, err
		}
		return data, collectionRefs(name, p), nil
	})
}

func (db *DB) invalidate(ctx context.Context, tenantID, name string) {
	if db.cache == nil {
		return
	}
	ref := ParseCollectionRef(name)
	if err := db.cache.InvalidateCollections(ctx, []CollectionRef{ref}); err != nil {
		db.log.Warn("cache invalidation",
			zap.String("tenant", tenantID),
			zap.String("collection", name),
			zap.Error(err))
	}
}

type cachedRows struct {
	Rows []bson.Raw `bson:"rows"`
}

func encodeRows(rows []bson.Raw) ([]byte, error) {
	if rows == nil {
		rows = []bson.Raw{}
	}
	return bson.Marshal(cachedRows{Rows: rows})
}

func decodeRows(data []byte) ([]bson.Raw, error) {
	var c cachedRows
	if err := bson.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c.Rows, nil
}
