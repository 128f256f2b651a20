package core

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/evfleet/fleetdb/core/pipeline"
)

const countField = "count"

// ListQuery describes a paged listing: a filter shared by the count and
// the page, then the stages that shape the page.
type ListQuery struct {
	Collection string
	Filter     pipeline.Pipeline
	Params     DbParams
	// DefaultSort applies when Params.Sort is empty.
	DefaultSort bson.D
	// Shape appends renames, lookups and projections to the page.
	Shape         func(p pipeline.Pipeline) pipeline.Pipeline
	ProjectFields []string
}

// CountPipeline returns the stages counted for the listing, without the
// final count stage. Unless only the count is requested, counting stops
// at DBRecordCountCeil.
func (q ListQuery) CountPipeline() pipeline.Pipeline {
	p := clone(q.Filter)
	if !q.Params.OnlyRecordCount {
		p = append(p, pipeline.Limit{N: DBRecordCountCeil})
	}
	return p
}

// DataPipeline returns the stages producing the page.
func (q ListQuery) DataPipeline() pipeline.Pipeline {
	params := q.Params.Checked()
	sort := params.Sort
	if len(sort) == 0 {
		sort = q.DefaultSort
	}
	p := clone(q.Filter)
	if len(sort) > 0 {
		p = append(p, pipeline.Sort{Fields: sort})
	}
	p = append(p,
		pipeline.Skip{N: int64(params.Skip)},
		pipeline.Limit{N: int64(params.Limit)},
	)
	if q.Shape != nil {
		p = resort(q.Shape(p), len(p), sort)
	}
	return p
}

// resort sorts the page again after the last group added by the shape
// stages, since grouping does not keep the order.
func resort(p pipeline.Pipeline, from int, sort bson.D) pipeline.Pipeline {
	if len(sort) == 0 {
		return p
	}
	last := -1
	for i := from; i < len(p); i++ {
		if p[i].Kind() == pipeline.KindGroup {
			last = i
		}
	}
	if last < 0 {
		return p
	}
	at := last + 1
	if at < len(p) && p[at].Kind() == pipeline.KindReplaceRoot {
		at++
	}
	return slices.Insert(p, at, pipeline.Stage(pipeline.Sort{Fields: sort}))
}

// ListRaw runs the count and, unless only the count is requested, the
// page concurrently.
func (db *DB) ListRaw(ctx context.Context, tenant *Tenant, q ListQuery) (int, []bson.Raw, error) {
	if err := CheckTenant(tenant); err != nil {
		return 0, nil, err
	}

	var (
		count int
		found bool
		rows  []bson.Raw
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		count, found, err = db.count(gctx, tenant, q.Collection, q.CountPipeline())
		return
	})
	if !q.Params.OnlyRecordCount {
		g.Go(func() (err error) {
			rows, err = db.Aggregate(gctx, tenant, q.Collection, q.DataPipeline())
			return
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	return CountFromDatabaseCount(count, found), rows, nil
}

// List runs q and decodes the page into T.
func List[T any](ctx context.Context, db *DB, tenant *Tenant, q ListQuery) (*DataResult[T], error) {
	count, rows, err := db.ListRaw(ctx, tenant, q)
	if err != nil {
		return nil, err
	}
	res := &DataResult[T]{
		Count:  count,
		Result: make([]T, 0, len(rows)),
	}
	if q.Params.OnlyRecordCount {
		return res, nil
	}
	for _, r := range rows {
		var v T
		if err := bson.Unmarshal(r, &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s", q.Collection)
		}
		res.Result = append(res.Result, v)
	}
	res.ProjectedFields = q.ProjectFields
	return res, nil
}

func clone(p pipeline.Pipeline) pipeline.Pipeline {
	return append(make(pipeline.Pipeline, 0, len(p)+4), p...)
}
