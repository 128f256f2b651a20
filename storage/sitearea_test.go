package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/pipeline"
)

func lookupsInto(p pipeline.Pipeline) []string {
	var as []string
	for _, s := range p {
		if l, ok := s.(pipeline.Lookup); ok {
			as = append(as, l.As)
		}
	}
	return as
}

func indexOf(p pipeline.Pipeline, as string) int {
	for i, s := range p {
		if l, ok := s.(pipeline.Lookup); ok && l.As == as {
			return i
		}
	}
	return -1
}

func TestSiteAreaFilter(t *testing.T) {
	issuer := true
	exclude := "5be7fb271014d90008992f09"
	q := SiteAreasQuery(testTenantID, time.Minute, SiteAreasParams{
		SiteAreaIDs:       []string{"5be7fb271014d90008992f08"},
		ExcludeSiteAreaID: exclude,
		SiteIDs:           []string{"5be7fb271014d90008992f0a"},
		Search:            "hall (b)",
		Issuer:            &issuer,
	}, core.DbParams{}, nil)

	require.Len(t, q.Filter, 1)
	match := q.Filter[0].(pipeline.Match).Filter

	id := value(match, "_id").(bson.D)
	require.Len(t, id, 2)
	assert.Equal(t, "$in", id[0].Key)
	assert.Equal(t, "$ne", id[1].Key)
	assert.Equal(t, exclude, id[1].Value.(bson.ObjectID).Hex())

	or := value(match, "$or").(bson.A)
	regex := or[0].(bson.D)[0].Value.(bson.D)
	assert.Equal(t, `hall \(b\)`, value(regex, "$regex"))
	assert.Equal(t, "i", value(regex, "$options"))

	assert.Equal(t, true, value(match, "issuer"))
	assert.NotNil(t, value(match, "siteID"))
}

func TestSiteAreaFilterByCompany(t *testing.T) {
	q := SiteAreasQuery(testTenantID, time.Minute, SiteAreasParams{
		CompanyIDs: []string{"5be7fb271014d90008992f0b"},
	}, core.DbParams{}, nil)

	assert.Equal(t, []string{"site"}, lookupsInto(q.Filter))
	last := q.Filter[len(q.Filter)-1].(pipeline.Match)
	assert.Equal(t, bson.D{{Key: "site.companyID", Value: bson.D{{Key: "$in", Value: bson.A{"5be7fb271014d90008992f0b"}}}}}, last.Filter)

	// the count sees the same join
	assert.Equal(t, []string{"site"}, lookupsInto(q.CountPipeline()))

	// the page drops the site unless asked for
	page := q.DataPipeline()
	assert.Equal(t, 1, countLookups(page, "site"))
	assert.Contains(t, page, pipeline.Stage(pipeline.Project{Fields: bson.D{{Key: "site", Value: 0}}}))
}

func countLookups(p pipeline.Pipeline, as string) int {
	n := 0
	for _, a := range lookupsInto(p) {
		if a == as {
			n++
		}
	}
	return n
}

func TestSiteAreaShape(t *testing.T) {
	tests := []struct {
		name    string
		params  SiteAreasParams
		lookups []string
	}{
		{
			name:    "plain",
			lookups: []string{"createdBy", "lastChangedBy"},
		},
		{
			name:    "with site and parent",
			params:  SiteAreasParams{WithSite: true, WithParentSiteArea: true},
			lookups: []string{"site", "parentSiteArea", "createdBy", "lastChangedBy"},
		},
		{
			name:    "with stations",
			params:  SiteAreasParams{WithChargingStations: true},
			lookups: []string{"chargingStations", "createdBy", "lastChangedBy"},
		},
		{
			name:    "with available chargers",
			params:  SiteAreasParams{WithAvailableChargers: true},
			lookups: []string{"chargingStations", "createdBy", "lastChangedBy"},
		},
		{
			name:    "with stations and available chargers",
			params:  SiteAreasParams{WithChargingStations: true, WithAvailableChargers: true},
			lookups: []string{"chargingStations", "createdBy", "lastChangedBy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SiteAreasQuery(testTenantID, time.Minute, tt.params, core.DbParams{}, nil).DataPipeline()
			assert.Equal(t, tt.lookups, lookupsInto(p))
		})
	}
}

func TestSiteAreaCountersRunBeforeIDRename(t *testing.T) {
	p := SiteAreasQuery(testTenantID, time.Minute, SiteAreasParams{WithAvailableChargers: true}, core.DbParams{}, nil).DataPipeline()

	rename := -1
	for i, s := range p {
		if pr, ok := s.(pipeline.Project); ok && value(pr.Fields, "_id") == 0 && value(pr.Fields, "__v") == 0 {
			rename = i
			break
		}
	}
	require.NotEqual(t, -1, rename)
	assert.Less(t, indexOf(p, "chargingStations"), rename)

	scratch := -1
	for i, s := range p {
		if pr, ok := s.(pipeline.Project); ok && value(pr.Fields, "connectorIndicators") == 0 {
			scratch = i
		}
	}
	assert.Less(t, scratch, rename)
	assert.Contains(t, p, pipeline.Stage(pipeline.Project{Fields: bson.D{{Key: "chargingStations", Value: 0}}}))
}

func TestSiteAreaCountersKeepNameOrder(t *testing.T) {
	byName := pipeline.Sort{Fields: bson.D{{Key: "name", Value: 1}}}

	tests := []struct {
		name   string
		params SiteAreasParams
	}{
		{"counters", SiteAreasParams{WithAvailableChargers: true}},
		{"counters with stations", SiteAreasParams{WithAvailableChargers: true, WithChargingStations: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SiteAreasQuery(testTenantID, time.Minute, tt.params, core.DbParams{}, nil).DataPipeline()

			lastGroup, lastSort := -1, -1
			for i, k := range p.Kinds() {
				switch k {
				case pipeline.KindGroup:
					lastGroup = i
				case pipeline.KindSort:
					lastSort = i
				}
			}
			require.NotEqual(t, -1, lastGroup)
			assert.Greater(t, lastSort, lastGroup)
			assert.Equal(t, byName, p[lastSort])
		})
	}
}

func TestSiteAreaInactiveFlagUsesPing(t *testing.T) {
	p := SiteAreasQuery(testTenantID, 2*time.Minute, SiteAreasParams{WithChargingStations: true}, core.DbParams{}, nil).DataPipeline()
	l := p[indexOf(p, "chargingStations")].(pipeline.Lookup)
	assert.Equal(t, pipeline.InactiveFlag(2*time.Minute), l.Pipeline[1])
}

func TestGetSiteAreas(t *testing.T) {
	exec := &fakeExec{count: 2, rows: []bson.D{
		{
			{Key: "id", Value: "a1"},
			{Key: "name", Value: "Hall A"},
			{Key: "siteID", Value: "5be7fb271014d90008992f0a"},
			{Key: "parentSiteAreaID", Value: nil},
			{Key: "connectorStats", Value: bson.D{{Key: "totalConnectors", Value: int32(4)}, {Key: "chargingConnectors", Value: int32(1)}}},
		},
		{{Key: "id", Value: "a2"}, {Key: "name", Value: "Hall B"}},
	}}
	db := newTestDB(t, exec)
	db.SetPingInterval(90 * time.Second)
	s := NewSiteAreaStorage(db)

	res, err := s.GetSiteAreas(context.Background(), testTenant, SiteAreasParams{WithChargingStations: true}, core.DbParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Result, 2)
	assert.Equal(t, "", res.Result[0].ParentSiteAreaID)
	assert.Equal(t, 4, res.Result[0].ConnectorStats.TotalConnectors)
	assert.Nil(t, res.Result[1].ConnectorStats)

	require.Len(t, exec.pages, 1)
	var inner []bson.D
	for _, stage := range exec.pages[0] {
		if stage[0].Key != "$lookup" {
			continue
		}
		body := stage[0].Value.(bson.D)
		if value(body, "as") == "chargingStations" {
			inner = value(body, "pipeline").([]bson.D)
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, pipeline.InactiveFlag(90*time.Second).Document(), inner[1])
}

func TestGetSiteArea(t *testing.T) {
	exec := &fakeExec{}
	s := NewSiteAreaStorage(newTestDB(t, exec))

	_, err := s.GetSiteArea(context.Background(), testTenant, "5be7fb271014d90008992f08", SiteAreasParams{}, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetSiteArea(context.Background(), nil, "5be7fb271014d90008992f08", SiteAreasParams{}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTenant)
}
