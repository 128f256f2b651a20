package core

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/evfleet/fleetdb/core/objectid"
)

const (
	// DBRecordCountCeil bounds how many documents a listing counts. A
	// count equal to the ceiling is reported as -1.
	DBRecordCountCeil = 500

	DefaultRecordLimit = 100
	MaxRecordLimit     = 1000
)

// DbParams controls paging and sorting of a listing.
type DbParams struct {
	Limit           int
	Skip            int
	Sort            bson.D
	OnlyRecordCount bool
}

// SingleRecord reads at most one document.
var SingleRecord = DbParams{Limit: 1}

// Checked returns a copy with limit and skip normalized. The receiver is
// left untouched.
func (p DbParams) Checked() DbParams {
	p.Limit = CheckRecordLimit(p.Limit)
	p.Skip = CheckRecordSkip(p.Skip)
	if p.Sort != nil {
		p.Sort = append(bson.D(nil), p.Sort...)
	}
	return p
}

// CheckRecordLimit maps non-positive limits to the default and caps the
// rest at MaxRecordLimit.
func CheckRecordLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecordLimit
	case limit > MaxRecordLimit:
		return MaxRecordLimit
	}
	return limit
}

// CheckRecordSkip maps negative skips to 0.
func CheckRecordSkip(skip int) int {
	if skip < 0 {
		return 0
	}
	return skip
}

// DataResult is one page of a listing.
type DataResult[T any] struct {
	// Count is the number of matching documents, -1 when there are at
	// least DBRecordCountCeil of them.
	Count           int      `json:"count"`
	Result          []T      `json:"result"`
	ProjectedFields []string `json:"projectFields,omitempty"`
}

// CountFromDatabaseCount converts the output of a count stage. A missing
// count document means zero.
func CountFromDatabaseCount(count int, found bool) int {
	if !found {
		return 0
	}
	if count == DBRecordCountCeil {
		return -1
	}
	return count
}

// Audit carries who created and last changed an entity.
type Audit struct {
	CreatedBy     any
	CreatedOn     time.Time
	LastChangedBy any
	LastChangedOn time.Time
}

// LastChangedCreatedProps renders the audit fields for a write. User
// references are normalized with objectid.FromAny and missing values are
// stored as null.
func LastChangedCreatedProps(a Audit) bson.D {
	return bson.D{
		{Key: "createdBy", Value: objectid.FromAny(a.CreatedBy)},
		{Key: "createdOn", Value: optionalTime(a.CreatedOn)},
		{Key: "lastChangedBy", Value: objectid.FromAny(a.LastChangedBy)},
		{Key: "lastChangedOn", Value: optionalTime(a.LastChangedOn)},
	}
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
