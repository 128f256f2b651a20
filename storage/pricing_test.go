package storage

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/pipeline"
)

func fakePricingModel(f *gofakeit.Faker) *PricingModel {
	on := f.Date().UTC()
	return &PricingModel{
		ContextID: bson.NewObjectID().Hex(),
		PricingDefinitions: []PricingDefinition{{
			ID:   bson.NewObjectID().Hex(),
			Name: f.Word(),
			Dimensions: PricingDimensions{
				Energy: &PricingDimension{Active: true, Price: f.Price(0.1, 0.5)},
			},
		}},
		Audit: Audit{
			CreatedBy: &UserRef{ID: bson.NewObjectID().Hex()},
			CreatedOn: &on,
		},
	}
}

func TestSavePricingModel(t *testing.T) {
	exec := &fakeExec{}
	s := NewPricingStorage(newTestDB(t, exec))
	m := fakePricingModel(gofakeit.New(7))

	id, err := s.SavePricingModel(context.Background(), testTenant, m)
	require.NoError(t, err)
	assert.Len(t, id, 24)
	assert.Equal(t, id, m.ID)

	require.Len(t, exec.upserts, 1)
	u := exec.upserts[0]
	assert.Equal(t, testTenantID+".pricingmodels", u.collection)
	assert.Equal(t, bson.D{{Key: "_id", Value: id}}, u.filter)

	ctxID, ok := value(u.set, "contextID").(*bson.ObjectID)
	require.True(t, ok)
	assert.Equal(t, m.ContextID, ctxID.Hex())

	createdBy := value(u.set, "createdBy").(*bson.ObjectID)
	assert.Equal(t, m.CreatedBy.ID, createdBy.Hex())
	assert.Equal(t, *m.CreatedOn, value(u.set, "createdOn"))
	assert.Nil(t, value(u.set, "lastChangedBy").(*bson.ObjectID))
	assert.Nil(t, value(u.set, "lastChangedOn"))
}

func TestSavePricingModelKeepsID(t *testing.T) {
	exec := &fakeExec{}
	s := NewPricingStorage(newTestDB(t, exec))

	id, err := s.SavePricingModel(context.Background(), testTenant, &PricingModel{ID: "existing"})
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Equal(t, []PricingDefinition{}, value(exec.upserts[0].set, "pricingDefinitions"))
	assert.Nil(t, value(exec.upserts[0].set, "contextID").(*bson.ObjectID))
}

func TestPricingInvalidTenant(t *testing.T) {
	exec := &fakeExec{}
	s := NewPricingStorage(newTestDB(t, exec))
	ctx := context.Background()

	_, err := s.SavePricingModel(ctx, nil, &PricingModel{})
	assert.ErrorIs(t, err, core.ErrInvalidTenant)
	assert.ErrorIs(t, s.DeletePricingModel(ctx, nil, "x"), core.ErrInvalidTenant)
	_, err = s.GetPricingModels(ctx, nil, PricingModelsParams{}, core.DbParams{}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTenant)
	assert.Empty(t, exec.upserts)
	assert.Empty(t, exec.pages)
}

func TestDeletePricingModel(t *testing.T) {
	exec := &fakeExec{}
	s := NewPricingStorage(newTestDB(t, exec))

	require.NoError(t, s.DeletePricingModel(context.Background(), testTenant, "p1"))
	assert.Equal(t, []bson.D{{{Key: "_id", Value: "p1"}}}, exec.deletes)
}

func TestGetPricingModel(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	exec := &fakeExec{count: 1, rows: []bson.D{{
		{Key: "id", Value: "p1"},
		{Key: "contextID", Value: "5be7fb271014d90008992f07"},
		{Key: "pricingDefinitions", Value: bson.A{}},
		{Key: "createdBy", Value: bson.D{{Key: "id", Value: "u1"}, {Key: "name", Value: "Doe"}}},
		{Key: "createdOn", Value: now},
		{Key: "lastChangedBy", Value: nil},
	}}}
	s := NewPricingStorage(newTestDB(t, exec))
	ctx := context.Background()

	m, err := s.GetPricingModel(ctx, testTenant, "p1", PricingModelsParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", m.ID)
	assert.Equal(t, "Doe", m.CreatedBy.Name)
	assert.Equal(t, now, m.CreatedOn.UTC())
	assert.Nil(t, m.LastChangedBy)

	exec.count = 0
	_, err = s.GetPricingModel(ctx, testTenant, "p2", PricingModelsParams{}, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPricingModelsQuery(t *testing.T) {
	contextID := "5be7fb271014d90008992f07"
	q := PricingModelsQuery(testTenantID, PricingModelsParams{
		IDs:        []string{"p1"},
		ContextIDs: []string{contextID, "bad"},
	}, core.DbParams{}, []string{"id", "contextID"})

	match := q.Filter[0].(pipeline.Match)
	assert.Equal(t, bson.D{{Key: "$ne", Value: true}}, value(match.Filter, "deleted"))
	assert.Equal(t, bson.D{{Key: "$in", Value: bson.A{"p1"}}}, value(match.Filter, "_id"))
	ids := value(match.Filter, "contextID").(bson.D)[0].Value.(bson.A)
	require.Len(t, ids, 1, "malformed context ids are skipped")
	assert.Equal(t, contextID, ids[0].(bson.ObjectID).Hex())

	p := q.DataPipeline()
	assert.Equal(t, pipeline.Sort{Fields: bson.D{{Key: "createdOn", Value: -1}}}, p[1])
	assert.Equal(t, pipeline.Limit{N: core.DefaultRecordLimit}, p[3])

	joined := p.Joined()
	assert.Equal(t, []string{testTenantID + ".users"}, joined)
	last := p[len(p)-1].(pipeline.Project)
	assert.Equal(t, bson.D{{Key: "id", Value: 1}, {Key: "contextID", Value: 1}}, last.Fields)
}
