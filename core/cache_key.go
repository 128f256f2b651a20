package core

import (
	"crypto/sha256"
	"encoding/hex"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// CacheKeyBuilder builds result cache keys from a rendered pipeline.
type CacheKeyBuilder struct{}

// NewCacheKeyBuilder creates a new cache key builder
func NewCacheKeyBuilder() *CacheKeyBuilder {
	return &CacheKeyBuilder{}
}

// Build returns the SHA256 of the physical collection name and the
// canonical Extended JSON of every stage. It returns "" when a stage
// cannot be rendered, which disables caching for that pipeline.
func (b *CacheKeyBuilder) Build(collection string, stages []bson.D) string {
	if collection == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte("coll:"))
	h.Write([]byte(collection))

	for _, s := range stages {
		js, err := bson.MarshalExtJSON(s, true, false)
		if err != nil {
			return ""
		}
		h.Write([]byte(":stage:"))
		h.Write(js)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildCacheKey is a convenience function that builds a cache key
func BuildCacheKey(collection string, stages []bson.D) string {
	return NewCacheKeyBuilder().Build(collection, stages)
}
