// Package storage reads and writes fleet entities of a tenant through
// core.DB. Every listing follows the same flow: check the tenant, count up
// to the record ceiling, then read one sorted page and shape it with the
// join builders of core/pipeline.
package storage

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/objectid"
)

func tenantID(t *core.Tenant) string {
	if t == nil {
		return ""
	}
	return t.ID
}

// objectIDs converts ids, skipping malformed ones.
func objectIDs(ids []string) bson.A {
	a := make(bson.A, 0, len(ids))
	for _, id := range ids {
		if oid := objectid.From(id); oid != nil {
			a = append(a, *oid)
		}
	}
	return a
}

func stringValues(ids []string) bson.A {
	a := make(bson.A, 0, len(ids))
	for _, id := range ids {
		a = append(a, id)
	}
	return a
}

func notDeleted() bson.E {
	return bson.E{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}}
}

func in(values bson.A) bson.D {
	return bson.D{{Key: "$in", Value: values}}
}
