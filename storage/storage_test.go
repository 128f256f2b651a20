package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap/zaptest"

	"github.com/evfleet/fleetdb/core"
)

const testTenantID = "5be7fb271014d90008992f06"

var testTenant = &core.Tenant{ID: testTenantID}

type upsert struct {
	collection  string
	filter, set bson.D
}

// fakeExec answers count pipelines with count and page pipelines with
// rows.
type fakeExec struct {
	mu      sync.Mutex
	count   int32
	rows    []bson.D
	upserts []upsert
	deletes []bson.D
	pages   [][]bson.D
}

func (f *fakeExec) Aggregate(_ context.Context, _ string, p []bson.D) ([]bson.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(p) > 0 && p[len(p)-1][0].Key == "$count" {
		if f.count == 0 {
			return nil, nil
		}
		b, err := bson.Marshal(bson.D{{Key: "count", Value: f.count}})
		return []bson.Raw{b}, err
	}
	f.pages = append(f.pages, p)
	out := make([]bson.Raw, 0, len(f.rows))
	for _, r := range f.rows {
		b, err := bson.Marshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeExec) UpsertOne(_ context.Context, collection string, filter, set bson.D) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsert{collection, filter, set})
	return nil
}

func (f *fakeExec) DeleteOne(_ context.Context, _ string, filter bson.D) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	return 1, nil
}

func newTestDB(t *testing.T, exec core.Executor) *core.DB {
	t.Helper()
	db, err := core.NewDB(exec, core.OptionSetLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return db
}

func value(d bson.D, key string) any {
	for _, e := range d {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}
