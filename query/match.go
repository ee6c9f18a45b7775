package query

import "fmt"

// FieldGetter reads a named field from one entity.
type FieldGetter func(field string) (any, bool)

// Match evaluates p against the entity exposed by get.
func Match(p Predicate, get FieldGetter) (bool, error) {
	switch p.Op {
	case "":
		return false, ErrEmptyPredicate
	case OpAnd:
		for _, c := range p.Children {
			ok, err := Match(c, get)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, c := range p.Children {
			ok, err := Match(c, get)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		if len(p.Children) != 1 {
			return false, fmt.Errorf("%w: not expects exactly one child", ErrMalformedPredicate)
		}
		ok, err := Match(p.Children[0], get)
		return !ok && err == nil, err
	}

	actual, ok := get(p.Field)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownField, p.Field)
	}
	want, err := ResolveValue(p.Value)
	if err != nil {
		return false, err
	}

	switch p.Op {
	case OpEq:
		return Equal(actual, want), nil
	case OpNe:
		return !Equal(actual, want), nil
	case OpIn:
		values, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("%w: in on %s expects a value list", ErrMalformedPredicate, p.Field)
		}
		for _, v := range values {
			rv, err := ResolveValue(v)
			if err != nil {
				return false, err
			}
			if Equal(actual, rv) {
				return true, nil
			}
		}
		return false, nil
	}

	cmp, comparable := Compare(actual, want)
	if !comparable {
		return false, nil
	}
	switch p.Op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("%w: unknown op %q", ErrMalformedPredicate, p.Op)
}
