// Package mapping translates between a public class shape and the entity shape a
// backing store persists.
package mapping

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-repository-pipeline/store"
)

// Mapper converts one value into another shape.
type Mapper[From, To any] interface {
	Map(from From) (To, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc[From, To any] func(From) (To, error)

// Map implements Mapper.
func (f MapperFunc[From, To]) Map(from From) (To, error) { return f(from) }

type fieldCopy struct {
	from    []int
	to      []int
	convert reflect.Type
}

// FieldMapper copies exported fields by name, converting between numeric kinds
// and named types with the same underlying type. Target fields without a source
// are left zero. It is safe for concurrent use.
type FieldMapper[From, To any] struct {
	copies []fieldCopy
	toPtr  bool
}

// NewFieldMapper plans the copy from From to To. renames maps a target field name
// to its source field name. Incompatible field types are a configuration error.
func NewFieldMapper[From, To any](renames map[string]string) (*FieldMapper[From, To], error) {
	fromT, _, err := structOf(reflect.TypeFor[From]())
	if err != nil {
		return nil, err
	}
	toT, toPtr, err := structOf(reflect.TypeFor[To]())
	if err != nil {
		return nil, err
	}

	sources := exportedFields(fromT)
	var copies []fieldCopy
	for _, tf := range reflect.VisibleFields(toT) {
		if !tf.IsExported() || tf.Anonymous {
			continue
		}
		name := tf.Name
		if renamed, ok := renames[name]; ok {
			name = renamed
		}
		sf, ok := sources[name]
		if !ok {
			if _, renamed := renames[tf.Name]; renamed {
				return nil, &store.ConfigError{Type: fromT.Name(), Field: name, Message: "renamed source field not found"}
			}
			continue
		}

		c := fieldCopy{from: sf.Index, to: tf.Index}
		switch {
		case sf.Type.AssignableTo(tf.Type):
		case sf.Type.ConvertibleTo(tf.Type) && sameFamily(sf.Type.Kind(), tf.Type.Kind()):
			c.convert = tf.Type
		default:
			return nil, &store.ConfigError{
				Type:    toT.Name(),
				Field:   tf.Name,
				Message: fmt.Sprintf("cannot map %s into %s", sf.Type, tf.Type),
			}
		}
		copies = append(copies, c)
	}
	return &FieldMapper[From, To]{copies: copies, toPtr: toPtr}, nil
}

// Map implements Mapper.
func (m *FieldMapper[From, To]) Map(from From) (To, error) {
	var out To
	src := reflect.ValueOf(&from).Elem()
	for src.Kind() == reflect.Pointer {
		if src.IsNil() {
			return out, nil
		}
		src = src.Elem()
	}

	dst := reflect.ValueOf(&out).Elem()
	if m.toPtr {
		dst.Set(reflect.New(dst.Type().Elem()))
		dst = dst.Elem()
	}

	for _, c := range m.copies {
		v, ok := fieldByIndex(src, c.from)
		if !ok {
			continue
		}
		if c.convert != nil {
			v = v.Convert(c.convert)
		}
		target, ok := fieldByIndexAlloc(dst, c.to)
		if !ok {
			continue
		}
		target.Set(v)
	}
	return out, nil
}

func structOf(t reflect.Type) (reflect.Type, bool, error) {
	ptr := false
	if t.Kind() == reflect.Pointer {
		t, ptr = t.Elem(), true
	}
	if t.Kind() != reflect.Struct {
		return nil, false, &store.ConfigError{Type: t.String(), Message: "mapping requires a struct type"}
	}
	return t, ptr, nil
}

func exportedFields(t reflect.Type) map[string]reflect.StructField {
	out := map[string]reflect.StructField{}
	for _, f := range reflect.VisibleFields(t) {
		if f.IsExported() && !f.Anonymous {
			out[f.Name] = f
		}
	}
	return out
}

func sameFamily(a, b reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
	}
	return a == b || (numeric(a) && numeric(b))
}

// fieldByIndex walks promoted fields, reporting false on a nil embedded pointer.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

// fieldByIndexAlloc walks promoted fields, allocating nil embedded pointers.
func fieldByIndexAlloc(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, v.CanSet()
}
