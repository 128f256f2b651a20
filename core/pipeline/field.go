package pipeline

import (
	"fmt"
	"strings"
)

// FieldPath is a document field reference split into its segments.
// A path with more than one segment is "composed" (a.b).
type FieldPath []string

// ParseField validates a dotted field path.
func ParseField(s string) (FieldPath, error) {
	if s == "" {
		return nil, fmt.Errorf("pipeline: empty field path")
	}
	if strings.HasPrefix(s, "$") {
		return nil, fmt.Errorf("pipeline: field path %q must not start with '$'", s)
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("pipeline: field path %q has an empty segment", s)
		}
	}
	return FieldPath(segs), nil
}

// F is ParseField for paths known at compile time. It panics on a
// malformed path.
func F(s string) FieldPath {
	p, err := ParseField(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the dotted form.
func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// Ref renders the path as a field reference expression ("$a.b").
func (p FieldPath) Ref() string {
	return "$" + p.String()
}

// IsComposed reports whether the path has more than one segment.
func (p FieldPath) IsComposed() bool {
	return len(p) > 1
}

// Root returns the first segment.
func (p FieldPath) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Last returns the last segment.
func (p FieldPath) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent drops the last segment.
func (p FieldPath) Parent() FieldPath {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1:len(p)-1]
}

// Child appends segments without mutating p.
func (p FieldPath) Child(segs ...string) FieldPath {
	out := make(FieldPath, 0, len(p)+len(segs))
	out = append(out, p...)
	for _, s := range segs {
		out = append(out, strings.Split(s, ".")...)
	}
	return out
}

// Under prefixes p with another path, e.g. F("a").Under(F("root")) is
// root.a.
func (p FieldPath) Under(prefix FieldPath) FieldPath {
	return prefix.Child(p...)
}
