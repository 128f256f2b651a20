package serv

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/evfleet/fleetdb/core"
)

// Hardcoded constants for cache behavior
const (
	swrWorkers           = 10      // SWR worker pool size
	compressionThreshold = 1024    // Only compress > 1KB
	maxResultSize        = 1 << 20 // 1MB max cacheable result
)

// ResultCache defines the interface for result caching backends.
// Both RedisCache and MemoryCache implement this interface.
type ResultCache interface {
	core.ResultCacheProvider

	// Metrics returns the cache metrics
	Metrics() *CacheMetrics

	// Close releases resources
	Close() error
}

// CacheEntry represents cached rows with metadata
type CacheEntry struct {
	Data         []byte `json:"d"`
	Compressed   bool   `json:"c,omitempty"`
	OriginalSize int    `json:"o,omitempty"`
	FreshUntil   int64  `json:"f"`
	StaleUntil   int64  `json:"s"`
}

// newCacheEntry compresses data when it pays off and stamps the soft and
// hard expiry times.
func newCacheEntry(conf CachingConfig, data []byte, now time.Time) (CacheEntry, int64) {
	var saved int64
	entry := CacheEntry{Data: data, OriginalSize: len(data)}

	if len(data) > compressionThreshold {
		compData, err := compress(data)
		if err == nil && len(compData) < len(data) {
			saved = int64(len(data) - len(compData))
			entry.Data = compData
			entry.Compressed = true
		}
	}

	ttl, freshTTL := conf.ttls()
	entry.FreshUntil = now.Add(freshTTL).Unix()
	entry.StaleUntil = now.Add(ttl).Unix()
	return entry, saved
}

// payload returns the uncompressed data.
func (e CacheEntry) payload() ([]byte, error) {
	if !e.Compressed {
		return e.Data, nil
	}
	return decompress(e.Data)
}

// readsExcluded reports whether a result read any collection that is
// never cached.
func readsExcluded(exclude map[string]bool, refs []core.CollectionRef) bool {
	for _, ref := range refs {
		if exclude[ref.Collection] {
			return true
		}
	}
	return false
}

// filterExcluded drops refs to collections that are never cached. No
// entry depends on them, so writes to them invalidate nothing.
func filterExcluded(exclude map[string]bool, refs []core.CollectionRef) []core.CollectionRef {
	if len(exclude) == 0 {
		return refs
	}

	filtered := make([]core.CollectionRef, 0, len(refs))
	for _, ref := range refs {
		if !exclude[ref.Collection] {
			filtered = append(filtered, ref)
		}
	}
	return filtered
}

func excludeSet(collections []string) map[string]bool {
	m := make(map[string]bool, len(collections))
	for _, c := range collections {
		m[c] = true
	}
	return m
}

// Compression helpers using gzip
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// refreshTarget is the cache a worker pool writes refreshed entries to.
type refreshTarget interface {
	Set(ctx context.Context, key string, data []byte, refs []core.CollectionRef, queryStartTime time.Time) error
	recordSWRRefresh(ctx context.Context)
}

// SWRWorkerPool manages background refresh workers for stale-while-revalidate
type SWRWorkerPool struct {
	jobs         chan RefreshJob
	cache        refreshTarget
	wg           sync.WaitGroup
	singleFlight singleflight.Group

	// mu orders submissions against closing jobs
	mu       sync.RWMutex
	shutdown atomic.Bool
}

// RefreshJob represents a background cache refresh task
type RefreshJob struct {
	Key       string
	RefreshFn core.RefreshFunc
}

// NewSWRWorkerPool creates a new SWR worker pool
func NewSWRWorkerPool(size int, cache refreshTarget) *SWRWorkerPool {
	pool := &SWRWorkerPool{
		jobs:  make(chan RefreshJob, size*2),
		cache: cache,
	}

	// Start fixed number of workers
	for i := 0; i < size; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *SWRWorkerPool) worker() {
	defer p.wg.Done()
	// accepted jobs run even after Shutdown
	for job := range p.jobs {
		// Single-flight: only one refresh per key at a time
		_, _, _ = p.singleFlight.Do(job.Key, func() (interface{}, error) {
			ctx := context.Background()
			start := time.Now()
			data, refs, err := job.RefreshFn()
			if err == nil && len(data) > 0 {
				_ = p.cache.Set(ctx, job.Key, data, refs, start)
				p.cache.recordSWRRefresh(ctx)
			}
			return nil, err
		})
	}
}

// TrySubmit attempts to submit a job, returns false if pool is busy
func (p *SWRWorkerPool) TrySubmit(job RefreshJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.shutdown.Load() {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		// Pool is full, skip this refresh
		return false
	}
}

// Shutdown rejects new jobs and waits for the queued ones to finish
func (p *SWRWorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.shutdown.Swap(true) {
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// CacheMetrics tracks cache performance
type CacheMetrics struct {
	Hits          atomic.Int64
	Misses        atomic.Int64
	Invalidations atomic.Int64
	BytesCached   atomic.Int64
	BytesSaved    atomic.Int64 // Compression savings
	Errors        atomic.Int64
	SWRRefreshes  atomic.Int64
}

// Snapshot returns a point-in-time snapshot of metrics
func (m *CacheMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"hits":          m.Hits.Load(),
		"misses":        m.Misses.Load(),
		"invalidations": m.Invalidations.Load(),
		"bytes_cached":  m.BytesCached.Load(),
		"bytes_saved":   m.BytesSaved.Load(),
		"errors":        m.Errors.Load(),
		"swr_refreshes": m.SWRRefreshes.Load(),
	}
}

// HitRate returns the cache hit rate (0.0 to 1.0)
func (m *CacheMetrics) HitRate() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// cacheRecorder records both internal metrics and OTel metrics.
type cacheRecorder struct {
	metrics *CacheMetrics

	otelHitCounter          metric.Int64Counter
	otelMissCounter         metric.Int64Counter
	otelInvalidationCounter metric.Int64Counter
	otelErrorCounter        metric.Int64Counter
	otelSWRRefreshCounter   metric.Int64Counter
	otelBytesCachedGauge    metric.Int64UpDownCounter
	otelBytesSavedGauge     metric.Int64UpDownCounter
}

func newCacheRecorder() cacheRecorder {
	meter := otel.Meter("fleetdb/cache")
	r := cacheRecorder{metrics: &CacheMetrics{}}

	r.otelHitCounter, _ = meter.Int64Counter("fleetdb.cache.hits",
		metric.WithDescription("Number of cache hits"))
	r.otelMissCounter, _ = meter.Int64Counter("fleetdb.cache.misses",
		metric.WithDescription("Number of cache misses"))
	r.otelInvalidationCounter, _ = meter.Int64Counter("fleetdb.cache.invalidations",
		metric.WithDescription("Number of cache invalidations"))
	r.otelErrorCounter, _ = meter.Int64Counter("fleetdb.cache.errors",
		metric.WithDescription("Number of cache errors"))
	r.otelSWRRefreshCounter, _ = meter.Int64Counter("fleetdb.cache.swr_refreshes",
		metric.WithDescription("Number of SWR background refreshes"))
	r.otelBytesCachedGauge, _ = meter.Int64UpDownCounter("fleetdb.cache.bytes_cached",
		metric.WithDescription("Total bytes stored in cache"))
	r.otelBytesSavedGauge, _ = meter.Int64UpDownCounter("fleetdb.cache.bytes_saved",
		metric.WithDescription("Bytes saved via compression"))
	return r
}

func (r *cacheRecorder) recordHit(ctx context.Context) {
	r.metrics.Hits.Add(1)
	if r.otelHitCounter != nil {
		r.otelHitCounter.Add(ctx, 1)
	}
}

func (r *cacheRecorder) recordMiss(ctx context.Context) {
	r.metrics.Misses.Add(1)
	if r.otelMissCounter != nil {
		r.otelMissCounter.Add(ctx, 1)
	}
}

func (r *cacheRecorder) recordError(ctx context.Context) {
	r.metrics.Errors.Add(1)
	if r.otelErrorCounter != nil {
		r.otelErrorCounter.Add(ctx, 1)
	}
}

func (r *cacheRecorder) recordInvalidation(ctx context.Context, count int64) {
	r.metrics.Invalidations.Add(count)
	if r.otelInvalidationCounter != nil {
		r.otelInvalidationCounter.Add(ctx, count)
	}
}

func (r *cacheRecorder) recordSWRRefresh(ctx context.Context) {
	r.metrics.SWRRefreshes.Add(1)
	if r.otelSWRRefreshCounter != nil {
		r.otelSWRRefreshCounter.Add(ctx, 1)
	}
}

func (r *cacheRecorder) recordStored(ctx context.Context, cached, saved int64) {
	r.metrics.BytesCached.Add(cached)
	if r.otelBytesCachedGauge != nil {
		r.otelBytesCachedGauge.Add(ctx, cached)
	}
	if saved == 0 {
		return
	}
	r.metrics.BytesSaved.Add(saved)
	if r.otelBytesSavedGauge != nil {
		r.otelBytesSavedGauge.Add(ctx, saved)
	}
}

// Metrics returns the cache metrics
func (r *cacheRecorder) Metrics() *CacheMetrics {
	return r.metrics
}
