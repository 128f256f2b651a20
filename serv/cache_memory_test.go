package serv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evfleet/fleetdb/core"
)

var (
	siteAreasRef = core.CollectionRef{Tenant: "5be7fb271014d90008992f06", Collection: "siteareas"}
	sitesRef     = core.CollectionRef{Tenant: "5be7fb271014d90008992f06", Collection: "sites"}
	usersRef     = core.CollectionRef{Tenant: "5be7fb271014d90008992f06", Collection: "users"}
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	conf := CachingConfig{
		TTL:      3600,
		FreshTTL: 300,
	}

	mc, err := NewMemoryCache(conf, 100)
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	key := "test-key"
	data := []byte(`{"rows": [{"id": 1}]}`)
	refs := []core.CollectionRef{siteAreasRef}

	// Test Set
	err = mc.Set(ctx, key, data, refs, time.Now())
	if err != nil {
		t.Fatalf("failed to set cache: %v", err)
	}

	// Test Get
	result, isStale, found := mc.Get(ctx, key)
	if !found {
		t.Errorf("expected to find cached entry")
	}
	if isStale {
		t.Errorf("expected entry to be fresh")
	}
	if string(result) != string(data) {
		t.Errorf("expected %s, got %s", data, result)
	}

	// Verify metrics
	snapshot := mc.Metrics().Snapshot()
	if snapshot["hits"] != 1 {
		t.Errorf("expected 1 hit, got %d", snapshot["hits"])
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	conf := CachingConfig{TTL: 3600}
	mc, err := NewMemoryCache(conf, 100)
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	_, _, found := mc.Get(ctx, "nonexistent-key")
	if found {
		t.Errorf("expected cache miss")
	}

	snapshot := mc.Metrics().Snapshot()
	if snapshot["misses"] != 1 {
		t.Errorf("expected 1 miss, got %d", snapshot["misses"])
	}
}

func TestMemoryCache_InvalidateCollections(t *testing.T) {
	mc, err := NewMemoryCache(CachingConfig{TTL: 3600}, 100)
	require.NoError(t, err)
	defer mc.Close()

	ctx := context.Background()
	data := []byte(`{"rows": []}`)
	start := time.Now().Add(-time.Second)

	// a joined sites, b did not
	require.NoError(t, mc.Set(ctx, "a", data, []core.CollectionRef{siteAreasRef, sitesRef}, start))
	require.NoError(t, mc.Set(ctx, "b", data, []core.CollectionRef{usersRef}, start))

	require.NoError(t, mc.InvalidateCollections(ctx, []core.CollectionRef{sitesRef}))

	_, _, found := mc.Get(ctx, "a")
	assert.False(t, found, "entry joining the written collection must go")

	_, _, found = mc.Get(ctx, "b")
	assert.True(t, found)

	assert.Equal(t, int64(1), mc.Metrics().Snapshot()["invalidations"])

	// Other tenants are untouched
	other := core.CollectionRef{Tenant: "default", Collection: "sites"}
	require.NoError(t, mc.Set(ctx, "c", data, []core.CollectionRef{other}, time.Now()))
	require.NoError(t, mc.InvalidateCollections(ctx, []core.CollectionRef{sitesRef}))
	_, _, found = mc.Get(ctx, "c")
	assert.True(t, found)
}

func TestMemoryCache_SkipsResultsThatRacedAWrite(t *testing.T) {
	mc, err := NewMemoryCache(CachingConfig{TTL: 3600}, 100)
	require.NoError(t, err)
	defer mc.Close()

	ctx := context.Background()
	queryStart := time.Now().Add(-time.Minute)

	require.NoError(t, mc.InvalidateCollections(ctx, []core.CollectionRef{sitesRef}))
	require.NoError(t, mc.Set(ctx, "late", []byte(`{}`), []core.CollectionRef{sitesRef}, queryStart))

	_, _, found := mc.Get(ctx, "late")
	assert.False(t, found)

	// Started after the write, so it is safe
	require.NoError(t, mc.Set(ctx, "fresh", []byte(`{}`), []core.CollectionRef{sitesRef}, time.Now().Add(time.Second)))
	_, _, found = mc.Get(ctx, "fresh")
	assert.True(t, found)
}

func TestMemoryCache_SkipsResultsStartedWithAWrite(t *testing.T) {
	mc, err := NewMemoryCache(CachingConfig{TTL: 3600}, 100)
	require.NoError(t, err)
	defer mc.Close()

	ctx := context.Background()
	require.NoError(t, mc.InvalidateCollections(ctx, []core.CollectionRef{sitesRef}))

	mc.mu.RLock()
	written := time.UnixMilli(mc.modTimes[sitesRef.String()])
	mc.mu.RUnlock()

	tests := []struct {
		name       string
		queryStart time.Time
		want       bool
	}{
		{"same millisecond", written, false},
		{"same millisecond later nanos", written.Add(999 * time.Microsecond), false},
		{"next millisecond", written.Add(time.Millisecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, mc.Set(ctx, tt.name, []byte(`{}`), []core.CollectionRef{sitesRef}, tt.queryStart))
			_, _, found := mc.Get(ctx, tt.name)
			assert.Equal(t, tt.want, found)
		})
	}
}

func TestMemoryCache_ExcludeCollections(t *testing.T) {
	conf := CachingConfig{
		TTL:                3600,
		ExcludeCollections: []string{"users"},
	}
	mc, err := NewMemoryCache(conf, 100)
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	start := time.Now().Add(-time.Second)

	// Anything read from an excluded collection is never stored
	require.NoError(t, mc.Set(ctx, "joined", []byte(`{}`), []core.CollectionRef{siteAreasRef, usersRef}, start))
	require.NoError(t, mc.Set(ctx, "users-only", []byte(`{}`), []core.CollectionRef{usersRef}, start))
	require.NoError(t, mc.Set(ctx, "areas", []byte(`{}`), []core.CollectionRef{siteAreasRef}, start))

	_, _, found := mc.Get(ctx, "joined")
	assert.False(t, found)
	_, _, found = mc.Get(ctx, "users-only")
	assert.False(t, found)
	_, _, found = mc.Get(ctx, "areas")
	assert.True(t, found)

	// Writes to an excluded collection leave other entries alone
	require.NoError(t, mc.InvalidateCollections(ctx, []core.CollectionRef{usersRef}))
	_, _, found = mc.Get(ctx, "areas")
	assert.True(t, found)
}

func TestMemoryCache_Compression(t *testing.T) {
	conf := CachingConfig{TTL: 3600}
	mc, err := NewMemoryCache(conf, 100)
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	key := "large-key"
	// Create data larger than compression threshold (1024 bytes)
	largeData := make([]byte, 2000)
	for i := range largeData {
		largeData[i] = 'x'
	}

	err = mc.Set(ctx, key, largeData, nil, time.Now())
	if err != nil {
		t.Fatalf("failed to set cache: %v", err)
	}

	result, _, found := mc.Get(ctx, key)
	if !found {
		t.Errorf("expected to find cached entry")
	}
	if len(result) != len(largeData) {
		t.Errorf("expected %d bytes, got %d bytes", len(largeData), len(result))
	}

	// Verify compression savings were recorded
	snapshot := mc.Metrics().Snapshot()
	if snapshot["bytes_saved"] == 0 {
		t.Errorf("expected compression savings")
	}
}

func TestMemoryCache_OversizedResultsAreNotCached(t *testing.T) {
	mc, err := NewMemoryCache(CachingConfig{TTL: 3600}, 100)
	require.NoError(t, err)
	defer mc.Close()

	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "big", make([]byte, maxResultSize+1), nil, time.Now()))

	_, _, found := mc.Get(ctx, "big")
	assert.False(t, found)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	conf := CachingConfig{TTL: 3600}
	mc, err := NewMemoryCache(conf, 3) // Very small cache
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer mc.Close()

	ctx := context.Background()
	data := []byte(`{}`)
	refs := []core.CollectionRef{siteAreasRef}

	// Add 4 entries to a cache with size 3
	for i := 0; i < 4; i++ {
		key := string(rune('a' + i))
		err = mc.Set(ctx, key, data, refs, time.Now())
		if err != nil {
			t.Fatalf("failed to set cache: %v", err)
		}
	}

	// First entry should be evicted
	_, _, found := mc.Get(ctx, "a")
	if found {
		t.Errorf("expected first entry to be evicted")
	}

	// Later entries should exist
	_, _, found = mc.Get(ctx, "d")
	if !found {
		t.Errorf("expected last entry to exist")
	}

	// Evicted keys leave the collection index
	mc.mu.RLock()
	indexed := len(mc.collIndex[siteAreasRef.String()])
	mc.mu.RUnlock()
	assert.Equal(t, 3, indexed)
}

func TestMemoryCache_TryRefresh(t *testing.T) {
	t.Run("without fresh ttl", func(t *testing.T) {
		mc, err := NewMemoryCache(CachingConfig{TTL: 3600}, 10)
		require.NoError(t, err)
		defer mc.Close()

		assert.False(t, mc.TryRefresh("k", func() ([]byte, []core.CollectionRef, error) {
			return nil, nil, nil
		}))
	})

	t.Run("refreshes in the background", func(t *testing.T) {
		mc, err := NewMemoryCache(CachingConfig{TTL: 3600, FreshTTL: 60}, 10)
		require.NoError(t, err)

		done := make(chan struct{})
		ok := mc.TryRefresh("k", func() ([]byte, []core.CollectionRef, error) {
			defer close(done)
			return []byte(`{"rows": []}`), []core.CollectionRef{siteAreasRef}, nil
		})
		require.True(t, ok)
		<-done

		// Shutdown waits for the worker, so the entry is stored by then
		mc.workerPool.Shutdown()

		_, _, found := mc.Get(context.Background(), "k")
		assert.True(t, found)
		assert.Equal(t, int64(1), mc.Metrics().Snapshot()["swr_refreshes"])
		require.NoError(t, mc.Close())
	})
}
