package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	groupRoot  = "root"
	keptVar    = "kept"
	defaultKey = "id"
)

// GroupBackParams describes how to fold an unwound array back into its
// parent documents.
type GroupBackParams struct {
	// Array is the unwound array, possibly inside a joined sub-document
	// (chargingStations.connectors).
	Array FieldPath
	// GroupKey together with _id identifies the parent. Defaults to id.
	GroupKey FieldPath
	// Aggregates are extra accumulators computed per parent, e.g.
	// {total: {$sum: "$x"}}.
	Aggregates bson.D
	// RootAggregation, when set, receives every aggregate under its own
	// key in the restored document.
	RootAggregation FieldPath
	// Keep is an optional expression evaluated on each unwound document;
	// elements for which it is false are left out of the restored array.
	Keep any
}

// GroupBack reverses an unwind of l.Array. Parents whose array was
// missing, null or empty get an empty array back.
func GroupBack(p Pipeline, l GroupBackParams) Pipeline {
	key := l.GroupKey
	if len(key) == 0 {
		key = FieldPath{defaultKey}
	}
	name := l.Array.Last()
	var pushed any = l.Array.Ref()
	if l.Keep != nil {
		pushed = Cond(l.Keep, l.Array.Ref(), nil)
	}

	acc := bson.D{
		{Key: groupRoot, Value: First(rootVar)},
		{Key: name, Value: Push(pushed)},
	}
	acc = append(acc, l.Aggregates...)
	p = append(p, Group{
		ID: bson.D{
			{Key: mongoIDField, Value: "$" + mongoIDField},
			{Key: idField, Value: key.Ref()},
		},
		Accumulators: acc,
	})

	var restored any = "$" + name
	if l.Keep != nil {
		restored = Filter(restored, keptVar, Ne("$$"+keptVar, nil))
	}
	restored = Cond(
		Or(Eq(restored, bson.A{bson.D{}}), Eq(restored, bson.A{nil})),
		bson.A{},
		restored,
	)
	root := FieldPath{groupRoot}
	p = append(p, AddFields{Fields: bson.D{assign(root, l.Array, restored)}})

	if len(l.Aggregates) > 0 && len(l.RootAggregation) > 0 {
		p = append(p, aggregatesInto(root, l.RootAggregation, l.Aggregates))
	}
	return append(p, ReplaceRoot{NewRoot: root.Ref()})
}

func aggregatesInto(root, target FieldPath, aggregates bson.D) AddFields {
	if !target.IsComposed() {
		fields := make(bson.D, 0, len(aggregates))
		for _, a := range aggregates {
			fields = append(fields, bson.E{Key: target.Child(a.Key).Under(root).String(), Value: "$" + a.Key})
		}
		return AddFields{Fields: fields}
	}
	values := make(bson.D, 0, len(aggregates))
	for _, a := range aggregates {
		values = append(values, bson.E{Key: a.Key, Value: "$" + a.Key})
	}
	current := target.Under(root)
	merged := MergeObjects(IfNull(current.Ref(), bson.D{}), values)
	return AddFields{Fields: bson.D{assign(root, target, merged)}}
}

// assign returns the $addFields entry writing value at base.rel. For a
// composed rel the intermediate documents are merged in place and left
// untouched when they are null or missing, so an absent relation is not
// turned into an empty shell.
func assign(base, rel FieldPath, value any) bson.E {
	if !rel.IsComposed() {
		return bson.E{Key: rel.Under(base).String(), Value: value}
	}
	parent := base.Child(rel.Root())
	return bson.E{Key: parent.String(), Value: mergeInto(parent, rel[1:], value)}
}

func mergeInto(doc, rel FieldPath, value any) bson.D {
	v := value
	if rel.IsComposed() {
		v = mergeInto(doc.Child(rel.Root()), rel[1:], value)
	}
	return Cond(Exists(doc),
		MergeObjects(doc.Ref(), bson.D{{Key: rel.Root(), Value: v}}),
		doc.Ref(),
	)
}
