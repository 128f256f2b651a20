package storage

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/objectid"
	"github.com/evfleet/fleetdb/core/pipeline"
)

const siteAreaModule = "SiteAreaStorage"

// SiteAreasParams filters site areas and selects what is joined to them.
type SiteAreasParams struct {
	SiteAreaIDs       []string
	SiteIDs           []string
	CompanyIDs        []string
	ExcludeSiteAreaID string
	// Search matches the name, case insensitive.
	Search string
	Issuer *bool

	WithSite             bool
	WithParentSiteArea   bool
	WithChargingStations bool
	// WithAvailableChargers adds connector counters to the site area and
	// to each of its stations.
	WithAvailableChargers bool
}

// SiteAreaStorage reads site areas.
type SiteAreaStorage struct {
	db *core.DB
}

// NewSiteAreaStorage creates a SiteAreaStorage.
func NewSiteAreaStorage(db *core.DB) *SiteAreaStorage {
	return &SiteAreaStorage{db: db}
}

// GetSiteArea returns one site area or core.ErrNotFound.
func (s *SiteAreaStorage) GetSiteArea(ctx context.Context, tenant *core.Tenant, id string,
	params SiteAreasParams, projectFields []string) (*SiteArea, error) {
	params.SiteAreaIDs = []string{id}
	res, err := s.GetSiteAreas(ctx, tenant, params, core.SingleRecord, projectFields)
	if err != nil {
		return nil, err
	}
	if res.Count != 1 || len(res.Result) == 0 {
		return nil, errors.Wrapf(core.ErrNotFound, "site area %s", id)
	}
	return &res.Result[0], nil
}

// GetSiteAreas lists site areas sorted by name unless dbParams sorts
// otherwise.
func (s *SiteAreaStorage) GetSiteAreas(ctx context.Context, tenant *core.Tenant,
	params SiteAreasParams, dbParams core.DbParams, projectFields []string) (*core.DataResult[SiteArea], error) {
	timer := s.db.TraceStart(tenantID(tenant), siteAreaModule, "getSiteAreas")
	if err := core.CheckTenant(tenant); err != nil {
		return nil, err
	}
	q := SiteAreasQuery(tenant.ID, s.db.PingInterval(), params, dbParams, projectFields)
	res, err := core.List[SiteArea](ctx, s.db, tenant, q)
	if err != nil {
		return nil, err
	}
	timer.End(zap.Int("count", res.Count), zap.Int("rows", len(res.Result)))
	return res, nil
}

// SiteAreasQuery builds the listing run by GetSiteAreas. ping is the
// charging station heartbeat period used for the inactive flag.
func SiteAreasQuery(tenantID string, ping time.Duration, params SiteAreasParams,
	dbParams core.DbParams, projectFields []string) core.ListQuery {
	filter := siteAreaFilter(tenantID, params)

	return core.ListQuery{
		Collection:  pipeline.CollectionSiteAreas,
		Filter:      filter,
		Params:      dbParams,
		DefaultSort: bson.D{{Key: "name", Value: 1}},
		Shape: func(p pipeline.Pipeline) pipeline.Pipeline {
			return shapeSiteAreas(p, tenantID, ping, params, projectFields)
		},
		ProjectFields: projectFields,
	}
}

func siteAreaFilter(tenantID string, params SiteAreasParams) pipeline.Pipeline {
	filters := bson.D{}

	id := bson.D{}
	if len(params.SiteAreaIDs) > 0 {
		id = append(id, bson.E{Key: "$in", Value: objectIDs(params.SiteAreaIDs)})
	}
	if oid := objectid.From(params.ExcludeSiteAreaID); oid != nil {
		id = append(id, bson.E{Key: "$ne", Value: *oid})
	}
	if len(id) > 0 {
		filters = append(filters, bson.E{Key: "_id", Value: id})
	}
	if params.Search != "" {
		filters = append(filters, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: bson.D{
				{Key: "$regex", Value: regexp.QuoteMeta(params.Search)},
				{Key: "$options", Value: "i"},
			}}},
		}})
	}
	if params.Issuer != nil {
		filters = append(filters, bson.E{Key: "issuer", Value: *params.Issuer})
	}
	if len(params.SiteIDs) > 0 {
		filters = append(filters, bson.E{Key: "siteID", Value: in(objectIDs(params.SiteIDs))})
	}

	p := pipeline.Pipeline{pipeline.Match{Filter: filters}}
	if len(params.CompanyIDs) > 0 {
		p = pipeline.SiteLookup(p, pipeline.LookupParams{
			TenantID:            tenantID,
			LocalField:          pipeline.F("siteID"),
			ForeignField:        pipeline.F("_id"),
			AsField:             pipeline.F("site"),
			OneToOneCardinality: true,
		})
		// the site lookup already renders companyID as a string
		p = append(p, pipeline.Match{Filter: bson.D{
			{Key: "site.companyID", Value: in(stringValues(params.CompanyIDs))},
		}})
	}
	return p
}

func shapeSiteAreas(p pipeline.Pipeline, tenantID string, ping time.Duration,
	params SiteAreasParams, projectFields []string) pipeline.Pipeline {
	if params.WithChargingStations {
		p = pipeline.ChargingStationLookup(ping)(p, pipeline.LookupParams{
			TenantID:     tenantID,
			LocalField:   pipeline.F("_id"),
			ForeignField: pipeline.F("siteAreaID"),
			AsField:      pipeline.F("chargingStations"),
		})
	}
	if params.WithAvailableChargers {
		p = pipeline.ConnectorStats(p, pipeline.ConnectorStatsParams{
			TenantID:          tenantID,
			OrganizationField: pipeline.F("siteAreaID"),
			WithLookup:        !params.WithChargingStations,
			PingInterval:      ping,
		})
		if !params.WithChargingStations {
			p = append(p, pipeline.Project{Fields: bson.D{{Key: "chargingStations", Value: 0}}})
		}
	}

	switch joined := len(params.CompanyIDs) > 0; {
	case params.WithSite && !joined:
		p = pipeline.SiteLookup(p, pipeline.LookupParams{
			TenantID:            tenantID,
			LocalField:          pipeline.F("siteID"),
			ForeignField:        pipeline.F("_id"),
			AsField:             pipeline.F("site"),
			OneToOneCardinality: true,
		})
	case !params.WithSite && joined:
		p = append(p, pipeline.Project{Fields: bson.D{{Key: "site", Value: 0}}})
	}

	if params.WithParentSiteArea {
		p = pipeline.SiteAreaLookup(p, pipeline.LookupParams{
			TenantID:            tenantID,
			LocalField:          pipeline.F("parentSiteAreaID"),
			ForeignField:        pipeline.F("_id"),
			AsField:             pipeline.F("parentSiteArea"),
			ObjectIDFields:      []pipeline.FieldPath{pipeline.F("siteID")},
			ProjectFields:       []string{"id", "name", "siteID"},
			OneToOneCardinality: true,
		})
	}

	p = pipeline.RenameDatabaseID(p)
	p = pipeline.ConvertObjectIDToString(p, pipeline.F("siteID"))
	p = pipeline.ConvertObjectIDToString(p, pipeline.F("parentSiteAreaID"))
	p = pipeline.CreatedLastChangedLookup(p, tenantID)
	return pipeline.ProjectFields(p, projectFields)
}
