// Package pipeline builds MongoDB aggregation pipelines that emulate
// relational joins, restore array cardinality after an unwind and compute
// nested counters.
//
// A Pipeline is an ordered list of typed stages. Builders take a pipeline,
// append to it and return it, the same way append does:
//
//	p = pipeline.RenameDatabaseID(p)
//	p = pipeline.SiteLookup(p, pipeline.LookupParams{...})
//
// Builders never reorder existing stages and never touch the store; the
// finished pipeline is rendered with Documents and handed to the driver.
package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Kind enumerates the stage kinds the builders emit.
type Kind uint8

const (
	KindMatch Kind = iota
	KindProject
	KindAddFields
	KindLookup
	KindUnwind
	KindGroup
	KindSort
	KindSkip
	KindLimit
	KindReplaceRoot
	KindCount
)

var kindOperators = [...]string{
	KindMatch:       "$match",
	KindProject:     "$project",
	KindAddFields:   "$addFields",
	KindLookup:      "$lookup",
	KindUnwind:      "$unwind",
	KindGroup:       "$group",
	KindSort:        "$sort",
	KindSkip:        "$skip",
	KindLimit:       "$limit",
	KindReplaceRoot: "$replaceRoot",
	KindCount:       "$count",
}

// String returns the stage operator, e.g. "$match".
func (k Kind) String() string {
	if int(k) < len(kindOperators) {
		return kindOperators[k]
	}
	return "$unknown"
}

// Stage is one pipeline step. The set of implementations is closed.
type Stage interface {
	Kind() Kind
	// Document renders the stage in driver form, e.g. {$match: {...}}.
	Document() bson.D
	stage()
}

// Pipeline is an ordered, append-only list of stages.
type Pipeline []Stage

// Documents renders every stage, preserving order.
func (p Pipeline) Documents() []bson.D {
	docs := make([]bson.D, len(p))
	for i, s := range p {
		docs[i] = s.Document()
	}
	return docs
}

// Kinds lists the stage kinds in order.
func (p Pipeline) Kinds() []Kind {
	kinds := make([]Kind, len(p))
	for i, s := range p {
		kinds[i] = s.Kind()
	}
	return kinds
}

// Joined lists the collections read by lookups, nested ones included,
// in first-seen order without duplicates.
func (p Pipeline) Joined() []string {
	var names []string
	seen := make(map[string]struct{})
	var walk func(Pipeline)
	walk = func(p Pipeline) {
		for _, s := range p {
			l, ok := s.(Lookup)
			if !ok {
				continue
			}
			if _, dup := seen[l.From]; !dup {
				seen[l.From] = struct{}{}
				names = append(names, l.From)
			}
			walk(l.Pipeline)
		}
	}
	walk(p)
	return names
}

func wrap(k Kind, body any) bson.D {
	return bson.D{{Key: k.String(), Value: body}}
}

// Match filters documents with a query document.
type Match struct {
	Filter bson.D
}

// Project includes (1), excludes (0) or computes fields.
type Project struct {
	Fields bson.D
}

// AddFields sets fields, possibly dotted, to expressions.
type AddFields struct {
	Fields bson.D
}

// Lookup joins another collection. When Pipeline is set the stage uses
// the let/pipeline form, otherwise LocalField/ForeignField.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	Let          bson.D
	Pipeline     Pipeline
	As           string
}

// Unwind emits one document per element of the array at Path.
type Unwind struct {
	Path                       FieldPath
	PreserveNullAndEmptyArrays bool
}

// Group groups by ID and computes accumulators.
type Group struct {
	ID           any
	Accumulators bson.D
}

// Sort orders documents; key order is significant.
type Sort struct {
	Fields bson.D
}

// Skip drops the first N documents.
type Skip struct {
	N int64
}

// Limit keeps at most N documents.
type Limit struct {
	N int64
}

// ReplaceRoot promotes an expression to be the whole document.
type ReplaceRoot struct {
	NewRoot any
}

// Count replaces the stream by a single {Field: n} document.
type Count struct {
	Field string
}

func (Match) Kind() Kind       { return KindMatch }
func (Project) Kind() Kind     { return KindProject }
func (AddFields) Kind() Kind   { return KindAddFields }
func (Lookup) Kind() Kind      { return KindLookup }
func (Unwind) Kind() Kind      { return KindUnwind }
func (Group) Kind() Kind       { return KindGroup }
func (Sort) Kind() Kind        { return KindSort }
func (Skip) Kind() Kind        { return KindSkip }
func (Limit) Kind() Kind       { return KindLimit }
func (ReplaceRoot) Kind() Kind { return KindReplaceRoot }
func (Count) Kind() Kind       { return KindCount }

func (Match) stage()       {}
func (Project) stage()     {}
func (AddFields) stage()   {}
func (Lookup) stage()      {}
func (Unwind) stage()      {}
func (Group) stage()       {}
func (Sort) stage()        {}
func (Skip) stage()        {}
func (Limit) stage()       {}
func (ReplaceRoot) stage() {}
func (Count) stage()       {}

func (s Match) Document() bson.D {
	if s.Filter == nil {
		return wrap(KindMatch, bson.D{})
	}
	return wrap(KindMatch, s.Filter)
}

func (s Project) Document() bson.D   { return wrap(KindProject, s.Fields) }
func (s AddFields) Document() bson.D { return wrap(KindAddFields, s.Fields) }

func (s Lookup) Document() bson.D {
	body := bson.D{{Key: "from", Value: s.From}}
	if s.Pipeline != nil {
		let := s.Let
		if let == nil {
			let = bson.D{}
		}
		body = append(body,
			bson.E{Key: "let", Value: let},
			bson.E{Key: "pipeline", Value: s.Pipeline.Documents()},
		)
	} else {
		body = append(body,
			bson.E{Key: "localField", Value: s.LocalField},
			bson.E{Key: "foreignField", Value: s.ForeignField},
		)
	}
	body = append(body, bson.E{Key: "as", Value: s.As})
	return wrap(KindLookup, body)
}

func (s Unwind) Document() bson.D {
	return wrap(KindUnwind, bson.D{
		{Key: "path", Value: s.Path.Ref()},
		{Key: "preserveNullAndEmptyArrays", Value: s.PreserveNullAndEmptyArrays},
	})
}

func (s Group) Document() bson.D {
	body := bson.D{{Key: "_id", Value: s.ID}}
	body = append(body, s.Accumulators...)
	return wrap(KindGroup, body)
}

func (s Sort) Document() bson.D        { return wrap(KindSort, s.Fields) }
func (s Skip) Document() bson.D        { return wrap(KindSkip, s.N) }
func (s Limit) Document() bson.D       { return wrap(KindLimit, s.N) }
func (s ReplaceRoot) Document() bson.D { return wrap(KindReplaceRoot, bson.D{{Key: "newRoot", Value: s.NewRoot}}) }
func (s Count) Document() bson.D       { return wrap(KindCount, s.Field) }
