package pipeline

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/evfleet/fleetdb/core/objectid"
	"github.com/evfleet/fleetdb/internal/mongotest"
)

// These tests run the built pipelines on a real server: the one named by
// FLEETDB_TEST_MONGO_URI, or a mongo container.

func TestMain(m *testing.M) {
	code := m.Run()
	mongotest.Terminate()
	os.Exit(code)
}

func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := mongotest.URI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// nested documents decode as bson.M like the top level
	client, err := mongo.Connect(options.Client().ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("fleetdb_test_" + objectid.New())
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

func insert(t *testing.T, db *mongo.Database, collection string, docs ...any) {
	t.Helper()
	_, err := db.Collection(collection).InsertMany(context.Background(), docs)
	require.NoError(t, err)
}

func run[T any](t *testing.T, db *mongo.Database, collection string, p Pipeline) []T {
	t.Helper()
	ctx := context.Background()
	cur, err := db.Collection(collection).Aggregate(ctx, p.Documents(), options.Aggregate().SetAllowDiskUse(true))
	require.NoError(t, err)
	var out []T
	require.NoError(t, cur.All(ctx, &out))
	return out
}

func TestMongoFilterArray(t *testing.T) {
	db := testDatabase(t)

	type item struct {
		Status string `bson:"status"`
	}
	type doc struct {
		ID    int    `bson:"_id"`
		Items []item `bson:"items"`
	}
	insert(t, db, "docs",
		doc{ID: 1, Items: []item{{"A"}, {"B"}}},
		doc{ID: 2, Items: []item{{"B"}}},
		bson.D{{Key: "_id", Value: 3}},
	)

	p := FilterArray(nil, F("items"), Eq("$items.status", "A"))
	p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})
	got := run[doc](t, db, "docs", p)

	require.Len(t, got, 3)
	assert.Equal(t, []item{{"A"}}, got[0].Items)
	assert.Empty(t, got[1].Items)
	assert.Empty(t, got[2].Items)
}

func TestMongoUnwindGroupBackPreservesCardinality(t *testing.T) {
	db := testDatabase(t)

	insert(t, db, "docs",
		bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "a"}, {Key: "tags", Value: bson.A{"x", "y", "z"}}},
		bson.D{{Key: "_id", Value: 2}, {Key: "name", Value: "b"}, {Key: "tags", Value: bson.A{}}},
		bson.D{{Key: "_id", Value: 3}, {Key: "name", Value: "c"}, {Key: "tags", Value: nil}},
		bson.D{{Key: "_id", Value: 4}, {Key: "name", Value: "d"}},
	)

	p := Pipeline{Unwind{Path: F("tags"), PreserveNullAndEmptyArrays: true}}
	p = GroupBack(p, GroupBackParams{Array: F("tags")})
	p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})

	type doc struct {
		ID   int      `bson:"_id"`
		Name string   `bson:"name"`
		Tags []string `bson:"tags"`
	}
	got := run[doc](t, db, "docs", p)

	require.Len(t, got, 4)
	sort.Strings(got[0].Tags)
	assert.Equal(t, doc{ID: 1, Name: "a", Tags: []string{"x", "y", "z"}}, got[0])
	for _, d := range got[1:] {
		assert.Empty(t, d.Tags, "document %d", d.ID)
	}
}

func TestMongoOneToOneLookup(t *testing.T) {
	db := testDatabase(t)
	tenantID := objectid.New()

	companyID := bson.NewObjectID()
	insert(t, db, CollectionName(tenantID, CollectionCompanies),
		bson.D{{Key: "_id", Value: companyID}, {Key: "name", Value: "ACME"}},
	)
	insert(t, db, "sites",
		bson.D{{Key: "_id", Value: 1}, {Key: "companyID", Value: companyID}},
		bson.D{{Key: "_id", Value: 2}, {Key: "companyID", Value: bson.NewObjectID()}},
	)

	t.Run("plain field", func(t *testing.T) {
		p := CompanyLookup(nil, LookupParams{
			TenantID:            tenantID,
			LocalField:          F("companyID"),
			ForeignField:        F("_id"),
			AsField:             F("company"),
			OneToOneCardinality: true,
		})
		p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})
		got := run[bson.M](t, db, "sites", p)

		require.Len(t, got, 2)
		company := got[0]["company"].(bson.M)
		assert.Equal(t, "ACME", company["name"])
		assert.Equal(t, companyID.Hex(), company["id"])
		assert.NotContains(t, company, "_id")

		v, ok := got[1]["company"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	t.Run("composed field", func(t *testing.T) {
		p := CompanyLookup(nil, LookupParams{
			TenantID:            tenantID,
			LocalField:          F("companyID"),
			ForeignField:        F("_id"),
			AsField:             F("owner.company"),
			OneToOneCardinality: true,
		})
		p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})
		got := run[bson.M](t, db, "sites", p)

		require.Len(t, got, 2)
		owner := got[0]["owner"].(bson.M)
		assert.Equal(t, "ACME", owner["company"].(bson.M)["name"])
		assert.Nil(t, got[1]["owner"])
	})

	t.Run("one to many", func(t *testing.T) {
		p := CompanyLookup(nil, LookupParams{
			TenantID:     tenantID,
			LocalField:   F("companyID"),
			ForeignField: F("_id"),
			AsField:      F("companies"),
		})
		p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})
		got := run[bson.M](t, db, "sites", p)

		require.Len(t, got, 2)
		assert.Len(t, got[0]["companies"], 1)
		assert.Equal(t, bson.A{}, got[1]["companies"])
	})

	t.Run("composed one to many", func(t *testing.T) {
		p := CompanyLookup(nil, LookupParams{
			TenantID:     tenantID,
			LocalField:   F("companyID"),
			ForeignField: F("_id"),
			AsField:      F("owner.companies"),
		})
		p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})
		got := run[bson.M](t, db, "sites", p)

		require.Len(t, got, 2)
		owner := got[0]["owner"].(bson.M)
		assert.Len(t, owner["companies"], 1)

		v, ok := got[1]["owner"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	t.Run("count", func(t *testing.T) {
		p := CompanyLookup(nil, LookupParams{
			TenantID:     tenantID,
			LocalField:   F("companyID"),
			ForeignField: F("_id"),
			AsField:      F("companyCount"),
			Count:        true,
		})
		p = append(p, Sort{Fields: bson.D{{Key: "_id", Value: 1}}})

		type doc struct {
			CompanyCount int `bson:"companyCount"`
		}
		got := run[doc](t, db, "sites", p)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].CompanyCount)
		assert.Equal(t, 0, got[1].CompanyCount)
	})
}

func TestMongoConnectorStats(t *testing.T) {
	db := testDatabase(t)
	tenantID := objectid.New()

	area1, area2 := bson.NewObjectID(), bson.NewObjectID()
	insert(t, db, CollectionName(tenantID, CollectionSiteAreas),
		bson.D{{Key: "_id", Value: area1}, {Key: "name", Value: "one"}},
		bson.D{{Key: "_id", Value: area2}, {Key: "name", Value: "two"}},
	)
	connectors := func(statuses ...string) bson.A {
		a := bson.A{}
		for i, s := range statuses {
			a = append(a, bson.D{{Key: "connectorId", Value: i + 1}, {Key: "status", Value: s}})
		}
		return a
	}
	insert(t, db, CollectionName(tenantID, CollectionChargingStations),
		bson.D{{Key: "_id", Value: "CS-1"}, {Key: "siteAreaID", Value: area1},
			{Key: "connectors", Value: connectors(ConnectorAvailable, ConnectorCharging, ConnectorFaulted)}},
		bson.D{{Key: "_id", Value: "CS-2"}, {Key: "siteAreaID", Value: area1},
			{Key: "connectors", Value: connectors(ConnectorOccupied, "Reserved")}},
		bson.D{{Key: "_id", Value: "CS-3"}, {Key: "siteAreaID", Value: area1}},
	)

	p := ConnectorStats(nil, ConnectorStatsParams{
		TenantID:          tenantID,
		OrganizationField: F("siteAreaID"),
		WithLookup:        true,
		PingInterval:      time.Minute,
	})
	p = append(p, Sort{Fields: bson.D{{Key: "name", Value: 1}}})

	type station struct {
		ID             string            `bson:"id"`
		Connectors     []bson.M          `bson:"connectors"`
		ConnectorStats ConnectorCounters `bson:"connectorStats"`
	}
	type area struct {
		Name             string            `bson:"name"`
		ChargingStations []station         `bson:"chargingStations"`
		ConnectorStats   ConnectorCounters `bson:"connectorStats"`
		Indicators       bson.M            `bson:"connectorIndicators"`
	}
	got := run[area](t, db, CollectionName(tenantID, CollectionSiteAreas), p)
	require.Len(t, got, 2)

	one := got[0]
	assert.Nil(t, one.Indicators)
	assert.Equal(t, ConnectorCounters{
		TotalConnectors:     5,
		AvailableConnectors: 1,
		FaultedConnectors:   1,
		ChargingConnectors:  2,
		OtherConnectors:     1,
	}, one.ConnectorStats)

	require.Len(t, one.ChargingStations, 3)
	sort.Slice(one.ChargingStations, func(i, j int) bool {
		return one.ChargingStations[i].ID < one.ChargingStations[j].ID
	})
	cs1 := one.ChargingStations[0]
	assert.Len(t, cs1.Connectors, 3)
	assert.Equal(t, 3, cs1.ConnectorStats.TotalConnectors)
	assert.Equal(t, 1, cs1.ConnectorStats.ChargingConnectors)
	assert.Equal(t, 2, one.ChargingStations[1].ConnectorStats.TotalConnectors)
	assert.Empty(t, one.ChargingStations[2].Connectors)
	assert.Equal(t, 0, one.ChargingStations[2].ConnectorStats.TotalConnectors)

	two := got[1]
	assert.Empty(t, two.ChargingStations)
	assert.Equal(t, ConnectorCounters{}, two.ConnectorStats)
}
