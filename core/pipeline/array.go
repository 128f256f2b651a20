package pipeline

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ArrayLookupOptions are the optional parts of ArrayLookup.
type ArrayLookupOptions struct {
	// Pipeline runs on each unwound element after the join.
	Pipeline []Stage
	// Sort orders the elements of the restored array.
	Sort bson.D
}

// FilterArray keeps the elements of array for which keep holds. Parents
// are never dropped: a parent with no remaining element gets [].
func FilterArray(p Pipeline, array FieldPath, keep any) Pipeline {
	p = append(p, Unwind{Path: array, PreserveNullAndEmptyArrays: true})
	return GroupBack(p, GroupBackParams{Array: array, Keep: keep})
}

// FilterTwoArrays filters inner, an array nested in the elements of
// outer. outerKey identifies an outer element. The inner array is folded
// back before the outer one.
func FilterTwoArrays(p Pipeline, outer, outerKey, inner FieldPath, keep any) Pipeline {
	p = append(p,
		Unwind{Path: outer, PreserveNullAndEmptyArrays: true},
		Unwind{Path: inner, PreserveNullAndEmptyArrays: true},
	)
	p = GroupBack(p, GroupBackParams{Array: inner, GroupKey: outerKey, Keep: keep})
	return GroupBack(p, GroupBackParams{Array: outer})
}

// ArrayLookup joins each element of array through lookup. The sort is
// applied on the unwound elements and again once they are grouped back,
// since grouping does not keep the order.
func ArrayLookup(p Pipeline, array FieldPath, lookup LookupFunc, l LookupParams, opts ArrayLookupOptions) Pipeline {
	p = append(p, Unwind{Path: array, PreserveNullAndEmptyArrays: true})
	p = lookup(p, l)
	p = append(p, opts.Pipeline...)
	if len(opts.Sort) > 0 {
		p = append(p, Sort{Fields: opts.Sort})
	}
	p = GroupBack(p, GroupBackParams{Array: array})
	if len(opts.Sort) > 0 {
		p = append(p, Sort{Fields: opts.Sort})
	}
	return p
}
