package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrEmptyPredicate is returned for a zero Predicate.
	ErrEmptyPredicate = errors.New("empty predicate")
	// ErrMalformedPredicate is returned for structurally invalid predicates.
	ErrMalformedPredicate = errors.New("malformed predicate")
	// ErrUnknownField is returned when a predicate references a field the entity lacks.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnresolvable is returned when a deferred value cannot be evaluated.
	ErrUnresolvable = errors.New("unresolvable value")
)

const maxResolveDepth = 32

// Valuer produces the value side of a comparison at evaluation time.
type Valuer interface {
	Resolve() (any, error)
}

// Lazy adapts a function to Valuer. The function may close over variables, so the
// value is read when the predicate is evaluated rather than when it is built.
type Lazy func() (any, error)

// Resolve implements Valuer.
func (f Lazy) Resolve() (any, error) {
	return f()
}

// Const wraps a literal as a Valuer.
func Const(v any) Valuer {
	return Lazy(func() (any, error) { return v, nil })
}

// Member reads a dotted path of exported fields or zero argument methods from
// source. Each segment is evaluated lazily, so Member(&req, "User.Email") sees the
// current content of req.
func Member(source any, path string) Valuer {
	return Lazy(func() (any, error) {
		return readMember(source, path)
	})
}

// ResolveValue evaluates v until it is no longer a Valuer.
func ResolveValue(v any) (any, error) {
	for depth := 0; depth < maxResolveDepth; depth++ {
		valuer, ok := v.(Valuer)
		if !ok {
			return v, nil
		}
		next, err := valuer.Resolve()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
		}
		v = next
	}
	return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnresolvable, maxResolveDepth)
}

func readMember(source any, path string) (any, error) {
	current, err := ResolveValue(source)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return current, nil
	}

	for _, segment := range strings.Split(path, ".") {
		rv := reflect.ValueOf(current)
		if !rv.IsValid() {
			return nil, fmt.Errorf("%w: nil value before %q", ErrUnresolvable, segment)
		}

		if m := rv.MethodByName(segment); m.IsValid() {
			out, err := callAccessor(m, segment)
			if err != nil {
				return nil, err
			}
			current = out
			continue
		}

		for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
			if rv.IsNil() {
				return nil, fmt.Errorf("%w: nil pointer before %q", ErrUnresolvable, segment)
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Struct:
			f := rv.FieldByName(segment)
			if !f.IsValid() || !f.CanInterface() {
				return nil, fmt.Errorf("%w: no exported member %q on %s", ErrUnresolvable, segment, rv.Type())
			}
			current = f.Interface()
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil, fmt.Errorf("%w: map key of %s is not a string", ErrUnresolvable, rv.Type())
			}
			mv := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
			if !mv.IsValid() {
				return nil, fmt.Errorf("%w: key %q not present", ErrUnresolvable, segment)
			}
			current = mv.Interface()
		default:
			return nil, fmt.Errorf("%w: cannot read %q from %s", ErrUnresolvable, segment, rv.Type())
		}
	}
	return current, nil
}

func callAccessor(m reflect.Value, name string) (any, error) {
	t := m.Type()
	if t.NumIn() != 0 || t.NumOut() == 0 || t.NumOut() > 2 {
		return nil, fmt.Errorf("%w: method %s is not an accessor", ErrUnresolvable, name)
	}
	out := m.Call(nil)
	if len(out) == 2 {
		if err, ok := out[1].Interface().(error); ok && err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvable, name, err)
		}
	}
	return out[0].Interface(), nil
}
