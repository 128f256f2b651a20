package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Fields every stored document carries and no reader needs.
const (
	idField      = "id"
	mongoIDField = "_id"
	versionField = "__v"
)

// UserMask lists the user fields hidden from joined user sub-documents.
var UserMask = []string{
	"_id", "__v", "email", "phone", "mobile", "notificationsActive",
	"notifications", "iNumber", "costCenter", "status", "createdBy",
	"createdOn", "lastChangedBy", "lastChangedOn", "role", "password",
	"locale", "passwordWrongNbrTrials", "passwordBlockedUntil",
	"passwordResetHash", "eulaAcceptedOn", "eulaAcceptedVersion",
	"eulaAcceptedHash", "image", "address", "plateID", "verificationToken",
	"mobileLastChangedOn", "issuer", "mobileOs", "mobileToken", "verifiedAt",
	"importedData", "billingData",
}

// ProjectFields keeps include and drops exclude in a single stage. It
// appends nothing when include is empty.
func ProjectFields(p Pipeline, include []string, exclude ...string) Pipeline {
	if len(include) == 0 {
		return p
	}
	fields := make(bson.D, 0, len(include)+len(exclude))
	for _, f := range include {
		fields = append(fields, bson.E{Key: f, Value: 1})
	}
	for _, f := range exclude {
		fields = append(fields, bson.E{Key: f, Value: 0})
	}
	return append(p, Project{Fields: fields})
}

// ExcludeNested drops the masked fields of a sub-document.
func ExcludeNested(p Pipeline, field FieldPath, mask []string) Pipeline {
	if len(mask) == 0 {
		return p
	}
	sub := make(bson.D, 0, len(mask))
	for _, f := range mask {
		sub = append(sub, bson.E{Key: f, Value: 0})
	}
	return append(p, Project{Fields: bson.D{{Key: field.String(), Value: sub}}})
}

// RenameField copies from into to, then removes from.
func RenameField(p Pipeline, from, to FieldPath) Pipeline {
	return append(p,
		AddFields{Fields: bson.D{{Key: to.String(), Value: from.Ref()}}},
		Project{Fields: bson.D{{Key: from.String(), Value: 0}}},
	)
}

// ClearFieldValueIfSubFieldIsNull nulls field when field.sub is null or
// missing, so a half-populated join result is never exposed.
func ClearFieldValueIfSubFieldIsNull(p Pipeline, field FieldPath, sub string) Pipeline {
	return append(p, AddFields{Fields: bson.D{{
		Key:   field.String(),
		Value: Cond(Exists(field.Child(sub)), field.Ref(), nil),
	}}})
}

// ConvertObjectIDToString rewrites an object id field to its hex string,
// keeping null for missing values.
func ConvertObjectIDToString(p Pipeline, field FieldPath) Pipeline {
	return ConvertObjectIDToStringAs(p, field, field)
}

// ConvertObjectIDToStringAs is ConvertObjectIDToString writing the result
// to another field. When target is a two-segment path a.b, a is set to
// null if it ends up as {b: null}: a failed join must not surface as an
// empty shell object.
func ConvertObjectIDToStringAs(p Pipeline, field, target FieldPath) Pipeline {
	p = append(p,
		AddFields{Fields: bson.D{{Key: target.String(), Value: IfNull(field.Ref(), nil)}}},
		AddFields{Fields: bson.D{{Key: target.String(), Value: Cond(Exists(field), ToString(field.Ref()), nil)}}},
	)
	if len(target) == 2 {
		parent := FieldPath{target.Root()}
		p = append(p, AddFields{Fields: bson.D{{
			Key:   parent.String(),
			Value: Cond(Eq(parent.Ref(), bson.D{{Key: target.Last(), Value: nil}}), nil, parent.Ref()),
		}}})
	}
	return p
}

// RenameDatabaseID exposes _id as a string id and removes _id and __v.
func RenameDatabaseID(p Pipeline) Pipeline {
	p = ConvertObjectIDToStringAs(p, FieldPath{mongoIDField}, FieldPath{idField})
	return append(p, Project{Fields: bson.D{
		{Key: mongoIDField, Value: 0},
		{Key: versionField, Value: 0},
	}})
}

// RenameNestedDatabaseID is RenameDatabaseID for a sub-document.
func RenameNestedDatabaseID(p Pipeline, nested FieldPath) Pipeline {
	p = ConvertObjectIDToStringAs(p, nested.Child(mongoIDField), nested.Child(idField))
	return append(p, Project{Fields: bson.D{{
		Key: nested.String(),
		Value: bson.D{
			{Key: versionField, Value: 0},
			{Key: mongoIDField, Value: 0},
		},
	}}})
}
