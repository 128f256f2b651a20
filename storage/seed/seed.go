// Package seed generates a consistent fake fleet for a tenant: users,
// companies, sites, site areas, charging stations and pricing models.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core/pipeline"
)

// Options sizes the generated fleet.
type Options struct {
	Seed                 int64
	Users                int
	Companies            int
	SitesPerCompany      int
	AreasPerSite         int
	StationsPerArea      int
	ConnectorsPerStation int
	PricingModels        int
}

// DefaultOptions is a small fleet suitable for tests and demos.
var DefaultOptions = Options{
	Seed:                 1,
	Users:                3,
	Companies:            2,
	SitesPerCompany:      2,
	AreasPerSite:         2,
	StationsPerArea:      2,
	ConnectorsPerStation: 2,
	PricingModels:        2,
}

var connectorStatuses = []string{
	pipeline.ConnectorAvailable,
	pipeline.ConnectorAvailable,
	pipeline.ConnectorCharging,
	pipeline.ConnectorOccupied,
	pipeline.ConnectorPreparing,
	pipeline.ConnectorFinishing,
	pipeline.ConnectorFaulted,
	pipeline.ConnectorUnavailable,
	pipeline.ConnectorSuspendedEV,
	pipeline.ConnectorSuspendedEVSE,
	"Reserved",
}

// Dataset holds generated documents keyed by collection suffix.
type Dataset struct {
	Users            []bson.ObjectID
	Companies        []bson.ObjectID
	Sites            []bson.ObjectID
	SiteAreas        []bson.ObjectID
	ChargingStations []string
	PricingModels    []string

	docs map[string][]any
}

// Docs returns the documents of one collection suffix.
func (d *Dataset) Docs(suffix string) []any {
	return d.docs[suffix]
}

// Generate builds a dataset. The same options always give the same
// names, statuses and amounts; ids are fresh.
func Generate(o Options) *Dataset {
	f := gofakeit.New(o.Seed)
	d := &Dataset{docs: make(map[string][]any)}
	now := time.Now().UTC().Truncate(time.Millisecond)

	add := func(suffix string, doc bson.D) {
		d.docs[suffix] = append(d.docs[suffix], doc)
	}
	audit := func() bson.D {
		var by any
		if len(d.Users) > 0 {
			by = d.Users[f.Number(0, len(d.Users)-1)]
		}
		created := f.DateRange(now.AddDate(-1, 0, 0), now).UTC().Truncate(time.Millisecond)
		return bson.D{
			{Key: "createdBy", Value: by},
			{Key: "createdOn", Value: created},
			{Key: "lastChangedBy", Value: by},
			{Key: "lastChangedOn", Value: created},
		}
	}
	address := func() bson.D {
		return bson.D{
			{Key: "address1", Value: f.Street()},
			{Key: "postalCode", Value: f.Zip()},
			{Key: "city", Value: f.City()},
			{Key: "country", Value: f.Country()},
			{Key: "coordinates", Value: bson.A{f.Longitude(), f.Latitude()}},
		}
	}

	for i := 0; i < o.Users; i++ {
		id := bson.NewObjectID()
		d.Users = append(d.Users, id)
		add(pipeline.CollectionUsers, bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: f.LastName()},
			{Key: "firstName", Value: f.FirstName()},
			{Key: "email", Value: f.Email()},
			{Key: "role", Value: "B"},
			{Key: "status", Value: "A"},
			{Key: "password", Value: f.Password(true, true, true, false, false, 16)},
		})
	}

	for c := 0; c < o.Companies; c++ {
		companyID := bson.NewObjectID()
		d.Companies = append(d.Companies, companyID)
		add(pipeline.CollectionCompanies, append(bson.D{
			{Key: "_id", Value: companyID},
			{Key: "name", Value: f.Company()},
			{Key: "address", Value: address()},
		}, audit()...))

		for s := 0; s < o.SitesPerCompany; s++ {
			siteID := bson.NewObjectID()
			d.Sites = append(d.Sites, siteID)
			add(pipeline.CollectionSites, append(bson.D{
				{Key: "_id", Value: siteID},
				{Key: "name", Value: f.City() + " " + f.Noun()},
				{Key: "companyID", Value: companyID},
				{Key: "public", Value: f.Bool()},
				{Key: "address", Value: address()},
			}, audit()...))

			var parent any
			for a := 0; a < o.AreasPerSite; a++ {
				areaID := bson.NewObjectID()
				d.SiteAreas = append(d.SiteAreas, areaID)
				add(pipeline.CollectionSiteAreas, append(bson.D{
					{Key: "_id", Value: areaID},
					{Key: "name", Value: fmt.Sprintf("%s %s %d", f.Adjective(), f.Noun(), len(d.SiteAreas))},
					{Key: "siteID", Value: siteID},
					{Key: "parentSiteAreaID", Value: parent},
					{Key: "issuer", Value: true},
					{Key: "maximumPower", Value: float64(f.Number(22, 400)) * 1000},
					{Key: "numberOfPhases", Value: 3},
					{Key: "address", Value: address()},
				}, audit()...))
				if parent == nil {
					parent = areaID
				}

				for st := 0; st < o.StationsPerArea; st++ {
					id := f.Numerify("CS-######")
					d.ChargingStations = append(d.ChargingStations, id)
					connectors := bson.A{}
					for n := 1; n <= o.ConnectorsPerStation; n++ {
						connectors = append(connectors, bson.D{
							{Key: "connectorId", Value: n},
							{Key: "status", Value: f.RandomString(connectorStatuses)},
							{Key: "power", Value: float64(f.Number(7, 150)) * 1000},
						})
					}
					add(pipeline.CollectionChargingStations, append(bson.D{
						{Key: "_id", Value: id},
						{Key: "siteAreaID", Value: areaID},
						{Key: "siteID", Value: siteID},
						{Key: "companyID", Value: companyID},
						{Key: "lastSeen", Value: now.Add(-time.Duration(f.Number(0, 600)) * time.Second)},
						{Key: "connectors", Value: connectors},
					}, audit()...))
				}
			}
		}
	}

	for i := 0; i < o.PricingModels && len(d.Sites) > 0; i++ {
		id := bson.NewObjectID().Hex()
		d.PricingModels = append(d.PricingModels, id)
		add(pipeline.CollectionPricingModels, append(bson.D{
			{Key: "_id", Value: id},
			{Key: "contextID", Value: d.Sites[i%len(d.Sites)]},
			{Key: "pricingDefinitions", Value: bson.A{bson.D{
				{Key: "id", Value: bson.NewObjectID().Hex()},
				{Key: "name", Value: f.Word() + " tariff"},
				{Key: "description", Value: f.Sentence(6)},
				{Key: "dimensions", Value: bson.D{
					{Key: "energy", Value: bson.D{{Key: "active", Value: true}, {Key: "price", Value: f.Price(0.2, 0.6)}}},
					{Key: "parkingTime", Value: bson.D{{Key: "active", Value: f.Bool()}, {Key: "price", Value: f.Price(1, 3)}}},
				}},
			}}},
		}, audit()...))
	}
	return d
}

// Inserter writes documents to a physical collection. It is implemented
// by *mongodriver.Conn.
type Inserter interface {
	InsertMany(ctx context.Context, collection string, docs []any) (int, error)
}

// Suffixes lists the generated collections in insertion order.
var Suffixes = []string{
	pipeline.CollectionUsers,
	pipeline.CollectionCompanies,
	pipeline.CollectionSites,
	pipeline.CollectionSiteAreas,
	pipeline.CollectionChargingStations,
	pipeline.CollectionPricingModels,
}

// Insert writes the dataset for a tenant and reports the number of
// documents written per physical collection.
func (d *Dataset) Insert(ctx context.Context, ins Inserter, tenantID string) (map[string]int, error) {
	written := make(map[string]int, len(Suffixes))
	for _, suffix := range Suffixes {
		name := pipeline.CollectionName(tenantID, suffix)
		n, err := ins.InsertMany(ctx, name, d.docs[suffix])
		if err != nil {
			return written, err
		}
		written[name] = n
	}
	return written, nil
}
