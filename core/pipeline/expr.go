package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Small aggregation-expression constructors. Single-operator documents
// are rendered as bson.D so that rendered pipelines are deterministic.

const (
	rootVar   = "$$ROOT"
	removeVar = "$$REMOVE"
	nowVar    = "$$NOW"
)

func op(name string, v any) bson.D {
	return bson.D{{Key: name, Value: v}}
}

// Cond is {$cond: {if, then, else}}.
func Cond(cond, then, els any) bson.D {
	return op("$cond", bson.D{
		{Key: "if", Value: cond},
		{Key: "then", Value: then},
		{Key: "else", Value: els},
	})
}

// Eq is {$eq: [a, b]}.
func Eq(a, b any) bson.D { return op("$eq", bson.A{a, b}) }

// Gt is {$gt: [a, b]}.
func Gt(a, b any) bson.D { return op("$gt", bson.A{a, b}) }

// Gte is {$gte: [a, b]}.
func Gte(a, b any) bson.D { return op("$gte", bson.A{a, b}) }

// Or is {$or: [...]}.
func Or(exprs ...any) bson.D { return op("$or", bson.A(exprs)) }

// And is {$and: [...]}.
func And(exprs ...any) bson.D { return op("$and", bson.A(exprs)) }

// In is {$in: [v, list]}.
func In(v any, list bson.A) bson.D { return op("$in", bson.A{v, list}) }

// IfNull is {$ifNull: [v, fallback]}.
func IfNull(v, fallback any) bson.D { return op("$ifNull", bson.A{v, fallback}) }

// ToString is {$toString: v}.
func ToString(v any) bson.D { return op("$toString", v) }

// Subtract is {$subtract: [a, b]}.
func Subtract(a, b any) bson.D { return op("$subtract", bson.A{a, b}) }

// MergeObjects is {$mergeObjects: [...]}.
func MergeObjects(docs ...any) bson.D { return op("$mergeObjects", bson.A(docs)) }

// Sum is the {$sum: v} accumulator.
func Sum(v any) bson.D { return op("$sum", v) }

// First is the {$first: v} accumulator.
func First(v any) bson.D { return op("$first", v) }

// Push is the {$push: v} accumulator.
func Push(v any) bson.D { return op("$push", v) }

// Exists is true when the referenced value is neither null nor missing.
func Exists(p FieldPath) bson.D {
	return Gt(p.Ref(), nil)
}

// Indicator evaluates to 1 when cond holds and 0 otherwise.
func Indicator(cond any) bson.D {
	return Cond(cond, 1, 0)
}

// Ne is {$ne: [a, b]}.
func Ne(a, b any) bson.D { return op("$ne", bson.A{a, b}) }

// Not is {$not: [expr]}.
func Not(expr any) bson.D { return op("$not", bson.A{expr}) }

// Filter is {$filter: {input, as, cond}}.
func Filter(input any, as string, cond any) bson.D {
	return op("$filter", bson.D{
		{Key: "input", Value: input},
		{Key: "as", Value: as},
		{Key: "cond", Value: cond},
	})
}
