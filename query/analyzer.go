package query

import "sort"

// Constraints is the set of equality tests implied by a predicate.
type Constraints struct {
	// Values maps a field name to the value it must equal.
	Values map[string]any
	// Conflicting holds fields equated to two different values in the same
	// conjunction. Such a predicate can never match.
	Conflicting map[string]struct{}
	// Pure is true when the predicate is nothing but a conjunction of equalities.
	Pure bool
}

// Fields returns the constrained field names in sorted order.
func (c Constraints) Fields() []string {
	out := make([]string, 0, len(c.Values))
	for f := range c.Values {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Value returns the value bound to field.
func (c Constraints) Value(field string) (any, bool) {
	v, ok := c.Values[field]
	return v, ok
}

// Unsatisfiable reports whether at least one field is bound to conflicting values.
func (c Constraints) Unsatisfiable() bool {
	return len(c.Conflicting) > 0
}

// Covers reports whether every field in fields is bound to exactly one value.
func (c Constraints) Covers(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if _, bad := c.Conflicting[f]; bad {
			return false
		}
		if _, ok := c.Values[f]; !ok {
			return false
		}
	}
	return true
}

// Exactly reports whether the constraints are pure and bind precisely fields.
func (c Constraints) Exactly(fields []string) bool {
	if !c.Pure || c.Unsatisfiable() || len(c.Values) != len(fields) {
		return false
	}
	return c.Covers(fields)
}

// ExtractEqualityConstraints walks the conjunctive part of p and collects every
// equality test between a field and a value. Deferred values are resolved during
// the walk. Or, Not and range comparisons are skipped rather than reported: they
// only mean the resulting set may not cover an index.
func ExtractEqualityConstraints(p Predicate) (Constraints, error) {
	if err := p.Validate(); err != nil {
		return Constraints{}, err
	}

	c := Constraints{
		Values: map[string]any{},
		Pure:   true,
	}
	if err := collect(p, &c); err != nil {
		return Constraints{}, err
	}
	return c, nil
}

func collect(p Predicate, c *Constraints) error {
	switch p.Op {
	case OpAnd:
		for _, child := range p.Children {
			if err := collect(child, c); err != nil {
				return err
			}
		}
		return nil
	case OpEq:
		v, err := ResolveValue(p.Value)
		if err != nil {
			return err
		}
		if prev, seen := c.Values[p.Field]; seen && !Equal(prev, v) {
			if c.Conflicting == nil {
				c.Conflicting = map[string]struct{}{}
			}
			c.Conflicting[p.Field] = struct{}{}
		}
		c.Values[p.Field] = v
		return nil
	default:
		c.Pure = false
		return nil
	}
}
