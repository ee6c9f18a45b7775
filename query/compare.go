package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Equal reports whether a and b hold the same value. Numbers of different Go types
// compare by value, so int(1) equals int64(1).
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(indirect(a), indirect(b))
}

// Compare orders a against b. The boolean is false when the values have no
// natural ordering relative to each other.
func Compare(a, b any) (int, bool) {
	a, b = indirect(a), indirect(b)
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}

	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isSigned(av) && isSigned(bv):
		return cmpOrdered(av.Int(), bv.Int()), true
	case isUnsigned(av) && isUnsigned(bv):
		return cmpOrdered(av.Uint(), bv.Uint()), true
	case isSigned(av) && isUnsigned(bv):
		if av.Int() < 0 {
			return -1, true
		}
		return cmpOrdered(uint64(av.Int()), bv.Uint()), true
	case isUnsigned(av) && isSigned(bv):
		if bv.Int() < 0 {
			return 1, true
		}
		return cmpOrdered(av.Uint(), uint64(bv.Int())), true
	case isNumber(av) && isNumber(bv):
		return cmpOrdered(toFloat(av), toFloat(bv)), true
	case av.Kind() == reflect.String && bv.Kind() == reflect.String:
		return strings.Compare(av.String(), bv.String()), true
	case av.Kind() == reflect.Bool && bv.Kind() == reflect.Bool:
		x, y := av.Bool(), bv.Bool()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}

	if sa, ok := a.(fmt.Stringer); ok {
		if sb, ok := b.(fmt.Stringer); ok && av.Type() == bv.Type() {
			return strings.Compare(sa.String(), sb.String()), true
		}
	}
	if av.Type() == bv.Type() && av.Comparable() && av.Equal(bv) {
		return 0, true
	}
	return 0, false
}

func cmpOrdered[N int64 | uint64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func isSigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumber(v reflect.Value) bool {
	return isSigned(v) || isUnsigned(v) || v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isSigned(v):
		return float64(v.Int())
	case isUnsigned(v):
		return float64(v.Uint())
	}
	return v.Float()
}
