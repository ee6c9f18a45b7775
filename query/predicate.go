package query

import (
	"fmt"
	"strings"
)

// Op identifies a predicate node.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

// Predicate is a boolean condition over the fields of an entity. Leaf nodes compare
// one field with a value; And, Or and Not combine child predicates.
//
// A leaf value may be a literal or a Valuer, which is resolved each time the
// predicate is analyzed or matched.
type Predicate struct {
	Op       Op          `json:"op"`
	Field    string      `json:"field,omitempty"`
	Value    any         `json:"value,omitempty"`
	Children []Predicate `json:"children,omitempty"`
}

// Eq matches entities whose field equals value.
func Eq(field string, value any) Predicate {
	return Predicate{Op: OpEq, Field: field, Value: value}
}

// Ne matches entities whose field differs from value.
func Ne(field string, value any) Predicate {
	return Predicate{Op: OpNe, Field: field, Value: value}
}

// Gt matches entities whose field is greater than value.
func Gt(field string, value any) Predicate {
	return Predicate{Op: OpGt, Field: field, Value: value}
}

// Gte matches entities whose field is greater than or equal to value.
func Gte(field string, value any) Predicate {
	return Predicate{Op: OpGte, Field: field, Value: value}
}

// Lt matches entities whose field is lower than value.
func Lt(field string, value any) Predicate {
	return Predicate{Op: OpLt, Field: field, Value: value}
}

// Lte matches entities whose field is lower than or equal to value.
func Lte(field string, value any) Predicate {
	return Predicate{Op: OpLte, Field: field, Value: value}
}

// In matches entities whose field equals one of values.
func In(field string, values ...any) Predicate {
	return Predicate{Op: OpIn, Field: field, Value: values}
}

// And matches when every child matches. An empty And matches everything.
func And(children ...Predicate) Predicate {
	return Predicate{Op: OpAnd, Children: children}
}

// Or matches when at least one child matches. An empty Or matches nothing.
func Or(children ...Predicate) Predicate {
	return Predicate{Op: OpOr, Children: children}
}

// Not negates child.
func Not(child Predicate) Predicate {
	return Predicate{Op: OpNot, Children: []Predicate{child}}
}

// All matches every entity.
func All() Predicate {
	return And()
}

// IsZero reports whether p was never built. Repositories reject zero predicates.
func (p Predicate) IsZero() bool {
	return p.Op == ""
}

// IsLeaf reports whether p compares a field with a value.
func (p Predicate) IsLeaf() bool {
	switch p.Op {
	case OpAnd, OpOr, OpNot, "":
		return false
	}
	return true
}

// Validate checks the structure of p.
func (p Predicate) Validate() error {
	switch p.Op {
	case "":
		return ErrEmptyPredicate
	case OpAnd, OpOr:
		for _, c := range p.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpNot:
		if len(p.Children) != 1 {
			return fmt.Errorf("%w: not expects exactly one child, got %d", ErrMalformedPredicate, len(p.Children))
		}
		return p.Children[0].Validate()
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		if p.Field == "" {
			return fmt.Errorf("%w: %s without field", ErrMalformedPredicate, p.Op)
		}
		if p.Op == OpIn {
			if _, ok := p.Value.([]any); !ok {
				return fmt.Errorf("%w: in on %s expects a value list", ErrMalformedPredicate, p.Field)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown op %q", ErrMalformedPredicate, p.Op)
}

// Fields returns every field referenced by p, in visiting order and without
// duplicates.
func (p Predicate) Fields() []string {
	seen := map[string]struct{}{}
	var out []string
	p.walk(func(n Predicate) {
		if n.Field == "" {
			return
		}
		if _, ok := seen[n.Field]; ok {
			return
		}
		seen[n.Field] = struct{}{}
		out = append(out, n.Field)
	})
	return out
}

func (p Predicate) walk(fn func(Predicate)) {
	fn(p)
	for _, c := range p.Children {
		c.walk(fn)
	}
}

func (p Predicate) String() string {
	switch p.Op {
	case "":
		return "<empty>"
	case OpAnd, OpOr, OpNot:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = c.String()
		}
		return string(p.Op) + "(" + strings.Join(parts, ",") + ")"
	}
	if _, ok := p.Value.(Valuer); ok {
		return fmt.Sprintf("%s(%s,<deferred>)", p.Op, p.Field)
	}
	return fmt.Sprintf("%s(%s,%v)", p.Op, p.Field, p.Value)
}
