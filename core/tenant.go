package core

import (
	"context"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core/objectid"
	"github.com/evfleet/fleetdb/core/pipeline"
)

// Tenant is the owner of a set of prefixed collections.
type Tenant struct {
	ID         string          `bson:"id" json:"id"`
	Name       string          `bson:"name" json:"name"`
	Subdomain  string          `bson:"subdomain" json:"subdomain"`
	Components map[string]bool `bson:"components,omitempty" json:"components,omitempty"`
}

// CheckTenant fails with ErrInvalidTenant when t is nil.
func CheckTenant(t *Tenant) error {
	if t == nil {
		return ErrInvalidTenant
	}
	return nil
}

const (
	defaultTenantTTL     = 5 * time.Minute
	defaultTenantEntries = 1000
)

// TenantCache resolves tenants from the shared tenants collection and
// keeps them for a while.
type TenantCache struct {
	db    *DB
	cache cache.Cache[string, Tenant]
}

// NewTenantCache creates a cache over db. Zero values select the defaults.
func NewTenantCache(db *DB, ttl time.Duration, maxEntries int) *TenantCache {
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultTenantEntries
	}
	return &TenantCache{
		db:    db,
		cache: cache.NewCache[string, Tenant]().WithTTL(ttl).WithMaxKeys(maxEntries).WithLRU(),
	}
}

// Get returns the tenant with the given id. The id "default" resolves to
// the built-in default tenant without a read.
func (tc *TenantCache) Get(ctx context.Context, id string) (*Tenant, error) {
	if id == pipeline.DefaultTenantID {
		return &Tenant{ID: id, Name: id}, nil
	}
	if t, ok := tc.cache.Get(id); ok {
		return &t, nil
	}
	oid := objectid.From(id)
	if oid == nil || !objectid.IsValid(id) {
		return nil, ErrInvalidTenant
	}

	p := pipeline.Pipeline{
		pipeline.Match{Filter: bson.D{{Key: "_id", Value: oid}}},
		pipeline.Limit{N: 1},
	}
	p = pipeline.RenameDatabaseID(p)
	rows, err := tc.db.Aggregate(ctx, &Tenant{ID: pipeline.DefaultTenantID}, pipeline.CollectionTenants, p)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s", id)
	}
	var t Tenant
	if err := bson.Unmarshal(rows[0], &t); err != nil {
		return nil, errors.Wrapf(err, "decode tenant %s", id)
	}
	tc.cache.Set(id, t, 0)
	return &t, nil
}

// Invalidate drops a tenant, e.g. after it was updated.
func (tc *TenantCache) Invalidate(id string) {
	tc.cache.Invalidate(id)
}

// Stat reports the cache counters.
func (tc *TenantCache) Stat() cache.Stats {
	return tc.cache.Stat()
}
