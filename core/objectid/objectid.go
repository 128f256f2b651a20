// Package objectid converts between MongoDB object identifiers and their
// canonical string form. It is the single place where identifier strings
// are validated.
package objectid

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IsValid reports whether s is a canonical object id: it must parse and
// render back to exactly s. Upper-case hex parses but is not canonical.
func IsValid(s string) bool {
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return false
	}
	return id.Hex() == s
}

// From parses s. It returns nil when s is empty or malformed; a nil
// pointer encodes as BSON null.
func From(s string) *bson.ObjectID {
	if s == "" {
		return nil
	}
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return nil
	}
	return &id
}

// New returns a freshly generated id in canonical form.
func New() string {
	return bson.NewObjectID().Hex()
}

// Identifiable is implemented by entities that carry a string id
// (users, user tokens).
type Identifiable interface {
	GetID() string
}

// FromAny normalizes a user reference that may be a string, an object id
// or an entity exposing its id.
func FromAny(v any) *bson.ObjectID {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return &val
	case *bson.ObjectID:
		return val
	case string:
		return From(val)
	case Identifiable:
		return From(val.GetID())
	default:
		return nil
	}
}
