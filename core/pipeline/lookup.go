package pipeline

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	joinVar    = "fieldVar"
	countField = "count"
)

// FirmwareInstalling is the firmware update status of a station that is
// being flashed and therefore not reachable.
const FirmwareInstalling = "Installing"

// LookupParams parameterizes a join against a tenant collection.
type LookupParams struct {
	TenantID     string
	LocalField   FieldPath
	ForeignField FieldPath
	// AsField receives the joined documents. A composed AsField (a.b)
	// sets a to null when nothing was joined.
	AsField FieldPath
	// ObjectIDFields are converted to hex strings in the joined documents.
	// When nil the entity defaults of the wrapper apply.
	ObjectIDFields []FieldPath
	ProjectFields  []string
	// PipelineMatch is ANDed with the join equality. It is not modified.
	PipelineMatch bson.D
	// OneToOneCardinality unwinds AsField to a single document, or null
	// unless OneToOneCardinalityNotNull drops unmatched documents.
	OneToOneCardinality        bool
	OneToOneCardinalityNotNull bool
	// Count replaces the joined documents by their number.
	Count bool
}

// LookupFunc appends a join. The entity wrappers below all satisfy it.
type LookupFunc func(p Pipeline, l LookupParams, extra ...Stage) Pipeline

// CollectionLookup appends an equi-join of l.LocalField against
// l.ForeignField of the tenant collection, running extra inside the
// joined collection right after the join filter.
func CollectionLookup(p Pipeline, collection string, l LookupParams, extra ...Stage) Pipeline {
	inner := Pipeline{Match{Filter: joinFilter(l.PipelineMatch, l.ForeignField)}}
	inner = append(inner, extra...)
	if l.Count {
		inner = append(inner, Group{
			ID:           l.AsField.Ref(),
			Accumulators: bson.D{{Key: countField, Value: Sum(1)}},
		})
	}
	inner = RenameDatabaseID(inner)
	for _, f := range l.ObjectIDFields {
		inner = ConvertObjectIDToString(inner, f)
	}
	inner = ProjectFields(inner, l.ProjectFields)

	p = append(p, Lookup{
		From:     CollectionName(l.TenantID, collection),
		Let:      bson.D{{Key: joinVar, Value: l.LocalField.Ref()}},
		Pipeline: inner,
		As:       l.AsField.String(),
	})
	if l.OneToOneCardinality {
		p = append(p, Unwind{Path: l.AsField, PreserveNullAndEmptyArrays: !l.OneToOneCardinalityNotNull})
		// an unwound empty array leaves the field missing
		if !l.OneToOneCardinalityNotNull && !l.AsField.IsComposed() && !l.Count {
			p = append(p, AddFields{Fields: bson.D{{Key: l.AsField.String(), Value: IfNull(l.AsField.Ref(), nil)}}})
		}
	}
	if l.AsField.IsComposed() {
		// an unwound empty join leaves the top document empty, a one to
		// many join leaves an empty array under it
		top := FieldPath{l.AsField.Root()}
		empty := Eq(l.AsField.Ref(), bson.A{})
		if l.OneToOneCardinality {
			empty = Eq(top.Ref(), bson.D{})
		}
		p = append(p, AddFields{Fields: bson.D{{
			Key:   top.String(),
			Value: Cond(empty, nil, top.Ref()),
		}}})
	}
	if l.Count {
		p = append(p,
			Unwind{Path: l.AsField, PreserveNullAndEmptyArrays: true},
			AddFields{Fields: bson.D{{
				Key:   l.AsField.String(),
				Value: IfNull(l.AsField.Child(countField).Ref(), 0),
			}}},
		)
	}
	return p
}

// joinFilter copies filter and adds the join equality, combining it with
// an existing $expr.
func joinFilter(filter bson.D, foreign FieldPath) bson.D {
	eq := Eq(foreign.Ref(), "$$"+joinVar)
	out := make(bson.D, 0, len(filter)+1)
	combined := false
	for _, e := range filter {
		if e.Key == "$expr" {
			e = bson.E{Key: "$expr", Value: And(e.Value, eq)}
			combined = true
		}
		out = append(out, e)
	}
	if !combined {
		out = append(out, bson.E{Key: "$expr", Value: eq})
	}
	return out
}

func entityLookup(p Pipeline, collection string, l LookupParams, extra []Stage, defaults ...string) Pipeline {
	if l.ObjectIDFields == nil {
		for _, f := range defaults {
			l.ObjectIDFields = append(l.ObjectIDFields, F(f))
		}
	}
	return CollectionLookup(p, collection, l, extra...)
}

// SiteLookup joins sites, converting companyID and the audit user ids.
func SiteLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionSites, l, extra, "companyID", "createdBy", "lastChangedBy")
}

// CompanyLookup joins companies.
func CompanyLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionCompanies, l, extra, "createdBy", "lastChangedBy")
}

// SiteAreaLookup joins site areas.
func SiteAreaLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionSiteAreas, l, extra, "createdBy", "lastChangedBy")
}

// UserLookup joins users.
func UserLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionUsers, l, extra, "createdBy", "lastChangedBy")
}

// AssetLookup joins assets.
func AssetLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionAssets, l, extra, "createdBy", "lastChangedBy")
}

// TagLookup joins tags.
func TagLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionTags, l, extra, "createdBy", "lastChangedBy")
}

// CarCatalogLookup joins the car catalog. No ids are converted by default.
func CarCatalogLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionCarCatalogs, l, extra)
}

// CarLookup joins cars.
func CarLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionCars, l, extra)
}

// SiteUserLookup joins the site to user assignments.
func SiteUserLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionSiteUsers, l, extra)
}

// TransactionLookup joins transactions.
func TransactionLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionTransactions, l, extra)
}

// TenantLogoLookup joins tenant logos.
func TenantLogoLookup(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
	return entityLookup(p, CollectionTenantLogos, l, extra)
}

// ChargingStationLookup returns the charging station join. Joined
// stations always carry the inactive flag for the given heartbeat
// interval, computed before any caller stage runs.
func ChargingStationLookup(ping time.Duration) LookupFunc {
	return func(p Pipeline, l LookupParams, extra ...Stage) Pipeline {
		stages := make([]Stage, 0, len(extra)+1)
		stages = append(stages, InactiveFlag(ping))
		stages = append(stages, extra...)
		return entityLookup(p, CollectionChargingStations, l, stages, "createdBy", "lastChangedBy")
	}
}

// InactiveFlag sets inactive on charging stations that are installing a
// firmware or have not been seen for two heartbeat intervals.
func InactiveFlag(ping time.Duration) Stage {
	return AddFields{Fields: bson.D{{
		Key: "inactive",
		Value: Or(
			Eq("$firmwareUpdateStatus", FirmwareInstalling),
			Gte(Subtract(nowVar, "$lastSeen"), 2*ping.Milliseconds()),
		),
	}}}
}

// CreatedLastChangedLookup replaces the createdBy and lastChangedBy user
// ids by the masked user documents.
func CreatedLastChangedLookup(p Pipeline, tenantID string) Pipeline {
	p = userRefLookup(p, tenantID, FieldPath{"createdBy"})
	return userRefLookup(p, tenantID, FieldPath{"lastChangedBy"})
}

func userRefLookup(p Pipeline, tenantID string, field FieldPath) Pipeline {
	p = append(p,
		Lookup{
			From:         CollectionName(tenantID, CollectionUsers),
			LocalField:   field.String(),
			ForeignField: mongoIDField,
			As:           field.String(),
		},
		Unwind{Path: field, PreserveNullAndEmptyArrays: true},
	)
	p = RenameNestedDatabaseID(p, field)
	p = ClearFieldValueIfSubFieldIsNull(p, field, idField)
	return ExcludeNested(p, field, UserMask)
}
