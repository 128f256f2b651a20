package core

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core/pipeline"
)

func testQuery(params DbParams) ListQuery {
	return ListQuery{
		Collection: pipeline.CollectionPricingModels,
		Filter: pipeline.Pipeline{
			pipeline.Match{Filter: bson.D{{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}}}},
		},
		Params:      params,
		DefaultSort: bson.D{{Key: "createdOn", Value: -1}},
		Shape:       pipeline.RenameDatabaseID,
	}
}

func TestListQueryPipelines(t *testing.T) {
	t.Run("count stops at the ceiling", func(t *testing.T) {
		p := testQuery(DbParams{}).CountPipeline()
		assert.Equal(t, []pipeline.Kind{pipeline.KindMatch, pipeline.KindLimit}, p.Kinds())
		assert.Equal(t, pipeline.Limit{N: DBRecordCountCeil}, p[1])
	})

	t.Run("count only is exact", func(t *testing.T) {
		p := testQuery(DbParams{OnlyRecordCount: true}).CountPipeline()
		assert.Equal(t, []pipeline.Kind{pipeline.KindMatch}, p.Kinds())
	})

	t.Run("page uses default sort and checked params", func(t *testing.T) {
		p := testQuery(DbParams{Limit: 5000, Skip: -3}).DataPipeline()
		require.GreaterOrEqual(t, len(p), 4)
		assert.Equal(t, pipeline.Sort{Fields: bson.D{{Key: "createdOn", Value: -1}}}, p[1])
		assert.Equal(t, pipeline.Skip{N: 0}, p[2])
		assert.Equal(t, pipeline.Limit{N: MaxRecordLimit}, p[3])
		assert.Equal(t, pipeline.KindProject, p[len(p)-1].Kind())
	})

	t.Run("caller sort wins", func(t *testing.T) {
		sort := bson.D{{Key: "name", Value: 1}}
		p := testQuery(DbParams{Sort: sort, Limit: 10, Skip: 20}).DataPipeline()
		assert.Equal(t, pipeline.Sort{Fields: sort}, p[1])
		assert.Equal(t, pipeline.Skip{N: 20}, p[2])
		assert.Equal(t, pipeline.Limit{N: 10}, p[3])
	})

	t.Run("grouping shape sorts again", func(t *testing.T) {
		q := testQuery(DbParams{})
		q.Shape = func(p pipeline.Pipeline) pipeline.Pipeline {
			p = append(p,
				pipeline.Unwind{Path: pipeline.F("items")},
				pipeline.Group{ID: "$_id"},
				pipeline.ReplaceRoot{NewRoot: "$root"},
			)
			return pipeline.RenameDatabaseID(p)
		}
		p := q.DataPipeline()

		kinds := p.Kinds()
		at := slices.Index(kinds, pipeline.KindReplaceRoot) + 1
		require.Less(t, at, len(p))
		assert.Equal(t, pipeline.Sort{Fields: bson.D{{Key: "createdOn", Value: -1}}}, p[at])
		assert.Equal(t, pipeline.KindProject, p[len(p)-1].Kind())
	})

	t.Run("shape without group keeps one sort", func(t *testing.T) {
		p := testQuery(DbParams{}).DataPipeline()
		sorts := 0
		for _, k := range p.Kinds() {
			if k == pipeline.KindSort {
				sorts++
			}
		}
		assert.Equal(t, 1, sorts)
	})

	t.Run("filter is not shared", func(t *testing.T) {
		q := testQuery(DbParams{})
		_ = q.CountPipeline()
		_ = q.DataPipeline()
		assert.Len(t, q.Filter, 1)
	})
}

func TestListRaw(t *testing.T) {
	respond := func(count int32) func(string, []bson.D) []bson.Raw {
		return func(_ string, p []bson.D) []bson.Raw {
			if isCount(p) {
				return []bson.Raw{raw(t, bson.D{{Key: "count", Value: count}})}
			}
			return []bson.Raw{
				raw(t, bson.D{{Key: "id", Value: "a"}}),
				raw(t, bson.D{{Key: "id", Value: "b"}}),
			}
		}
	}

	t.Run("count and page", func(t *testing.T) {
		exec := &fakeExec{respond: respond(2)}
		db := newTestDB(t, exec)
		count, rows, err := db.ListRaw(context.Background(), testTenant, testQuery(DbParams{}))
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Len(t, rows, 2)
		assert.Len(t, exec.calls(), 2)
	})

	t.Run("ceiling reported as -1", func(t *testing.T) {
		db := newTestDB(t, &fakeExec{respond: respond(DBRecordCountCeil)})
		count, _, err := db.ListRaw(context.Background(), testTenant, testQuery(DbParams{}))
		require.NoError(t, err)
		assert.Equal(t, -1, count)
	})

	t.Run("only count skips the page", func(t *testing.T) {
		exec := &fakeExec{respond: respond(DBRecordCountCeil)}
		db := newTestDB(t, exec)
		count, rows, err := db.ListRaw(context.Background(), testTenant, testQuery(DbParams{OnlyRecordCount: true}))
		require.NoError(t, err)
		assert.Equal(t, -1, count)
		assert.Nil(t, rows)

		calls := exec.calls()
		require.Len(t, calls, 1)
		assert.True(t, isCount(calls[0].pipeline))
	})
}

func TestList(t *testing.T) {
	type row struct {
		ID string `bson:"id"`
	}
	exec := &fakeExec{respond: func(_ string, p []bson.D) []bson.Raw {
		if isCount(p) {
			return nil
		}
		return []bson.Raw{raw(t, bson.D{{Key: "id", Value: "a"}})}
	}}
	db := newTestDB(t, exec)

	q := testQuery(DbParams{})
	q.ProjectFields = []string{"id"}
	res, err := List[row](context.Background(), db, testTenant, q)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, []row{{ID: "a"}}, res.Result)
	assert.Equal(t, []string{"id"}, res.ProjectedFields)

	q.Params.OnlyRecordCount = true
	res, err = List[row](context.Background(), db, testTenant, q)
	require.NoError(t, err)
	assert.NotNil(t, res.Result)
	assert.Empty(t, res.Result)
}
