package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/objectid"
	"github.com/evfleet/fleetdb/core/pipeline"
)

const pricingModule = "PricingStorage"

// PricingModelsParams filters pricing models.
type PricingModelsParams struct {
	IDs        []string
	ContextIDs []string
}

// PricingStorage persists pricing models.
type PricingStorage struct {
	db *core.DB
}

// NewPricingStorage creates a PricingStorage.
func NewPricingStorage(db *core.DB) *PricingStorage {
	return &PricingStorage{db: db}
}

// SavePricingModel creates or replaces m and returns its id. A model
// without id gets a new one.
func (s *PricingStorage) SavePricingModel(ctx context.Context, tenant *core.Tenant, m *PricingModel) (string, error) {
	timer := s.db.TraceStart(tenantID(tenant), pricingModule, "savePricingModel")
	if err := core.CheckTenant(tenant); err != nil {
		return "", err
	}
	if m.ID == "" {
		m.ID = objectid.New()
	}
	defs := m.PricingDefinitions
	if defs == nil {
		defs = []PricingDefinition{}
	}
	set := bson.D{
		{Key: "contextID", Value: objectid.From(m.ContextID)},
		{Key: "pricingDefinitions", Value: defs},
	}
	set = append(set, core.LastChangedCreatedProps(core.Audit{
		CreatedBy:     m.CreatedBy,
		CreatedOn:     deref(m.CreatedOn),
		LastChangedBy: m.LastChangedBy,
		LastChangedOn: deref(m.LastChangedOn),
	})...)

	err := s.db.Upsert(ctx, tenant, pipeline.CollectionPricingModels, bson.D{{Key: "_id", Value: m.ID}}, set)
	if err != nil {
		return "", err
	}
	timer.End(zap.String("id", m.ID))
	return m.ID, nil
}

// DeletePricingModel removes a pricing model. Deleting a missing model is
// not an error.
func (s *PricingStorage) DeletePricingModel(ctx context.Context, tenant *core.Tenant, id string) error {
	timer := s.db.TraceStart(tenantID(tenant), pricingModule, "deletePricingModel")
	if err := core.CheckTenant(tenant); err != nil {
		return err
	}
	removed, err := s.db.Delete(ctx, tenant, pipeline.CollectionPricingModels, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	timer.End(zap.String("id", id), zap.Bool("removed", removed))
	return nil
}

// GetPricingModel returns the pricing model with the given id, or
// core.ErrNotFound.
func (s *PricingStorage) GetPricingModel(ctx context.Context, tenant *core.Tenant, id string,
	params PricingModelsParams, projectFields []string) (*PricingModel, error) {
	params.IDs = []string{id}
	res, err := s.GetPricingModels(ctx, tenant, params, core.SingleRecord, projectFields)
	if err != nil {
		return nil, err
	}
	if res.Count != 1 || len(res.Result) == 0 {
		return nil, errors.Wrapf(core.ErrNotFound, "pricing model %s", id)
	}
	return &res.Result[0], nil
}

// GetPricingModels lists pricing models, newest first unless dbParams
// sorts otherwise.
func (s *PricingStorage) GetPricingModels(ctx context.Context, tenant *core.Tenant,
	params PricingModelsParams, dbParams core.DbParams, projectFields []string) (*core.DataResult[PricingModel], error) {
	timer := s.db.TraceStart(tenantID(tenant), pricingModule, "getPricingModels")
	if err := core.CheckTenant(tenant); err != nil {
		return nil, err
	}
	res, err := core.List[PricingModel](ctx, s.db, tenant, PricingModelsQuery(tenant.ID, params, dbParams, projectFields))
	if err != nil {
		return nil, err
	}
	timer.End(zap.Int("count", res.Count), zap.Int("rows", len(res.Result)))
	return res, nil
}

// PricingModelsQuery builds the listing run by GetPricingModels.
func PricingModelsQuery(tenantID string, params PricingModelsParams,
	dbParams core.DbParams, projectFields []string) core.ListQuery {
	filters := bson.D{notDeleted()}
	if len(params.IDs) > 0 {
		filters = append(filters, bson.E{Key: "_id", Value: in(stringValues(params.IDs))})
	}
	if len(params.ContextIDs) > 0 {
		filters = append(filters, bson.E{Key: "contextID", Value: in(objectIDs(params.ContextIDs))})
	}

	return core.ListQuery{
		Collection:  pipeline.CollectionPricingModels,
		Filter:      pipeline.Pipeline{pipeline.Match{Filter: filters}},
		Params:      dbParams,
		DefaultSort: bson.D{{Key: "createdOn", Value: -1}},
		Shape: func(p pipeline.Pipeline) pipeline.Pipeline {
			p = pipeline.RenameDatabaseID(p)
			p = pipeline.ConvertObjectIDToString(p, pipeline.F("contextID"))
			p = pipeline.CreatedLastChangedLookup(p, tenantID)
			return pipeline.ProjectFields(p, projectFields)
		},
		ProjectFields: projectFields,
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
