// Package core runs tenant scoped aggregation pipelines against MongoDB.
//
// Pipelines are built with the core/pipeline package and executed
// through a DB, which adds tenant checks, tracing, rate limiting,
// duplicate suppression and an optional result cache.
package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/evfleet/fleetdb/core/pipeline"
)

// DefaultPingInterval is the charging station heartbeat period used by
// the inactive flag when none is configured.
const DefaultPingInterval = 60 * time.Second

// sharedQueryTimeout bounds an aggregation shared by concurrent callers.
const sharedQueryTimeout = 2 * time.Minute

// Executor runs operations against physical collections. It is
// implemented by *mongodriver.Conn.
type Executor interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.Raw, error)
	UpsertOne(ctx context.Context, collection string, filter, set bson.D) error
	DeleteOne(ctx context.Context, collection string, filter bson.D) (int64, error)
}

// DB executes pipelines for tenants. It is safe for concurrent use.
type DB struct {
	exec    Executor
	log     *zap.Logger
	tracer  trace.Tracer
	cache   ResultCacheProvider
	limiter *rate.Limiter
	group   singleflight.Group
	ping    atomic.Int64
}

// Option configures a DB.
type Option func(*DB) error

// OptionSetLogger sets the logger. Pipelines are logged at debug level.
func OptionSetLogger(log *zap.Logger) Option {
	return func(db *DB) error {
		if log == nil {
			return errors.New("logger is nil")
		}
		db.log = log
		return nil
	}
}

// OptionSetTracerProvider sets where spans are sent. The global provider
// is used otherwise.
func OptionSetTracerProvider(tp trace.TracerProvider) Option {
	return func(db *DB) error {
		db.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// OptionSetResultCache enables result caching.
func OptionSetResultCache(c ResultCacheProvider) Option {
	return func(db *DB) error {
		db.cache = c
		return nil
	}
}

// OptionSetRateLimit bounds the number of pipelines sent per second.
// A non-positive qps disables the limit.
func OptionSetRateLimit(qps float64, burst int) Option {
	return func(db *DB) error {
		if qps <= 0 {
			db.limiter = nil
			return nil
		}
		if burst <= 0 {
			burst = 1
		}
		db.limiter = rate.NewLimiter(rate.Limit(qps), burst)
		return nil
	}
}

// OptionSetPingInterval sets the charging station heartbeat period.
func OptionSetPingInterval(d time.Duration) Option {
	return func(db *DB) error {
		db.SetPingInterval(d)
		return nil
	}
}

// NewDB creates a DB over exec.
func NewDB(exec Executor, options ...Option) (*DB, error) {
	if exec == nil {
		return nil, errors.New("executor is nil")
	}
	db := &DB{
		exec:   exec,
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	db.ping.Store(int64(DefaultPingInterval))

	for _, op := range options {
		if err := op(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// PingInterval returns the charging station heartbeat period.
func (db *DB) PingInterval() time.Duration {
	return time.Duration(db.ping.Load())
}

// SetPingInterval changes the heartbeat period. Non-positive values
// restore the default.
func (db *DB) SetPingInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPingInterval
	}
	db.ping.Store(int64(d))
}

// Logger returns the logger the DB was configured with.
func (db *DB) Logger() *zap.Logger {
	return db.log
}

// Aggregate runs p on the tenant's collection and returns every document.
func (db *DB) Aggregate(ctx context.Context, tenant *Tenant, collection string, p pipeline.Pipeline) ([]bson.Raw, error) {
	if err := CheckTenant(tenant); err != nil {
		return nil, err
	}
	name := pipeline.CollectionName(tenant.ID, collection)
	return db.aggregate(ctx, name, p)
}

// Count runs p followed by a count stage. A pipeline that yields no
// documents counts zero.
func (db *DB) Count(ctx context.Context, tenant *Tenant, collection string, p pipeline.Pipeline) (int, error) {
	count, _, err := db.count(ctx, tenant, collection, p)
	return count, err
}

func (db *DB) count(ctx context.Context, tenant *Tenant, collection string, p pipeline.Pipeline) (int, bool, error) {
	cp := make(pipeline.Pipeline, 0, len(p)+1)
	cp = append(cp, p...)
	cp = append(cp, pipeline.Count{Field: countField})

	rows, err := db.Aggregate(ctx, tenant, collection, cp)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	var res struct {
		Count int `bson:"count"`
	}
	if err := bson.Unmarshal(rows[0], &res); err != nil {
		return 0, false, errors.Wrapf(err, "decode count %s", collection)
	}
	return res.Count, true, nil
}

// Upsert sets fields on the document matching filter, creating it when
// missing, and invalidates cached results of the collection.
func (db *DB) Upsert(ctx context.Context, tenant *Tenant, collection string, filter, set bson.D) error {
	if err := CheckTenant(tenant); err != nil {
		return err
	}
	name := pipeline.CollectionName(tenant.ID, collection)

	ctx, span := db.startSpan(ctx, "upsert", name)
	defer span.End()

	if err := db.wait(ctx); err != nil {
		return err
	}
	if err := db.exec.UpsertOne(ctx, name, filter, set); err != nil {
		spanError(span, err)
		return errors.Wrapf(err, "upsert %s", name)
	}
	db.invalidate(ctx, tenant.ID, name)
	return nil
}

// Delete removes the document matching filter and reports whether one
// was removed.
func (db *DB) Delete(ctx context.Context, tenant *Tenant, collection string, filter bson.D) (bool, error) {
	if err := CheckTenant(tenant); err != nil {
		return false, err
	}
	name := pipeline.CollectionName(tenant.ID, collection)

	ctx, span := db.startSpan(ctx, "delete", name)
	defer span.End()

	if err := db.wait(ctx); err != nil {
		return false, err
	}
	n, err := db.exec.DeleteOne(ctx, name, filter)
	if err != nil {
		spanError(span, err)
		return false, errors.Wrapf(err, "delete %s", name)
	}
	if n > 0 {
		db.invalidate(ctx, tenant.ID, name)
	}
	return n > 0, nil
}

func (db *DB) aggregate(ctx context.Context, name string, p pipeline.Pipeline) ([]bson.Raw, error) {
	docs := p.Documents()
	key := BuildCacheKey(name, docs)

	if db.cache != nil && key != "" {
		if data, stale, ok := db.cache.Get(ctx, key); ok {
			rows, err := decodeRows(data)
			switch {
			case err != nil:
				db.log.Warn("unreadable cache entry", zap.String("collection", name), zap.Error(err))
			case !stale || db.refresh(key, name, p):
				return rows, nil
			}
		}
	}

	if key == "" {
		return db.run(ctx, name, p, docs)
	}
	// the shared query outlives any one caller, each caller still stops
	// waiting when its own context ends
	ch := db.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedQueryTimeout)
		defer cancel()
		return db.run(sctx, name, p, docs)
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "aggregate %s", name)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]bson.Raw), nil
	}
}

func (db *DB) run(ctx context.Context, name string, p pipeline.Pipeline, docs []bson.D) ([]bson.Raw, error) {
	ctx, span := db.startSpan(ctx, "aggregate", name)
	defer span.End()

	if err := db.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.exec.Aggregate(ctx, name, docs)
	if err != nil {
		spanError(span, err)
		return nil, errors.Wrapf(err, "aggregate %s", name)
	}
	if ce := db.log.Check(zap.DebugLevel, "aggregate"); ce != nil {
		ce.Write(
			zap.String("collection", name),
			zap.Int("stages", len(docs)),
			zap.Int("rows", len(rows)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	db.store(ctx, name, p, rows, start)
	return rows, nil
}

func (db *DB) wait(ctx context.Context) error {
	if db.limiter == nil {
		return nil
	}
	if err := db.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	return nil
}
