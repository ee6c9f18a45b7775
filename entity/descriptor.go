package entity

import (
	"errors"
	"reflect"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

// DefaultIndex names the composite index declared with a bare `repo:"index"` tag.
const DefaultIndex = "clustered"

// ErrIDNotGenerated is returned by NewID for identifier kinds that are assigned by
// the backing store, such as integers.
var ErrIDNotGenerated = errors.New("identifier kind cannot be generated")

var uuidType = reflect.TypeOf(uuid.UUID{})

// IndexSpec describes one composite secondary index. Fields are sorted.
type IndexSpec struct {
	Name   string
	Fields []string
}

type fieldInfo struct {
	name  string
	index []int
	typ   reflect.Type
}

// typeInfo is the non generic part of a descriptor, shared by every Descriptor[T]
// of the same type.
type typeInfo struct {
	typ        reflect.Type
	name       string
	id         fieldInfo
	fields     map[string]fieldInfo
	fieldNames []string
	indexes    []IndexSpec
}

var registry = xsync.NewMapOf[reflect.Type, *typeInfo]()

// Descriptor exposes identifier access and index metadata for entity type T. It
// is immutable and safe for concurrent use.
type Descriptor[T any] struct {
	info *typeInfo
}

// Describe returns the descriptor for T, building it on first use. T must be a
// struct or a pointer to a struct.
func Describe[T any]() (*Descriptor[T], error) {
	t, err := structType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if info, ok := registry.Load(t); ok {
		return &Descriptor[T]{info: info}, nil
	}

	info, err := inspect(t)
	if err != nil {
		return nil, err
	}
	info, _ = registry.LoadOrStore(t, info)
	return &Descriptor[T]{info: info}, nil
}

// MustDescribe is like Describe but panics on configuration errors.
func MustDescribe[T any]() *Descriptor[T] {
	d, err := Describe[T]()
	if err != nil {
		panic(err)
	}
	return d
}

func structType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, &store.ConfigError{Message: "entity type is nil"}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &store.ConfigError{Type: t.String(), Message: "entity must be a struct"}
	}
	return t, nil
}

// TypeName returns the Go type name of the entity.
func (d *Descriptor[T]) TypeName() string { return d.info.name }

// IDField returns the name of the identifier field.
func (d *Descriptor[T]) IDField() string { return d.info.id.name }

// FieldNames returns the exported field names in declaration order.
func (d *Descriptor[T]) FieldNames() []string {
	return append([]string(nil), d.info.fieldNames...)
}

// HasSecondaryIndex reports whether T declares at least one composite index.
func (d *Descriptor[T]) HasSecondaryIndex() bool { return len(d.info.indexes) > 0 }

// IndexedFieldNames returns the sorted fields of the default composite index. When
// only named indexes are declared the first one (by name) is returned.
func (d *Descriptor[T]) IndexedFieldNames() []string {
	if spec, ok := d.Index(DefaultIndex); ok {
		return spec.Fields
	}
	if len(d.info.indexes) > 0 {
		return append([]string(nil), d.info.indexes[0].Fields...)
	}
	return nil
}

// Indexes returns every declared composite index sorted by name.
func (d *Descriptor[T]) Indexes() []IndexSpec {
	out := make([]IndexSpec, len(d.info.indexes))
	for i, spec := range d.info.indexes {
		out[i] = IndexSpec{Name: spec.Name, Fields: append([]string(nil), spec.Fields...)}
	}
	return out
}

// Index returns the composite index called name.
func (d *Descriptor[T]) Index(name string) (IndexSpec, bool) {
	for _, spec := range d.info.indexes {
		if spec.Name == name {
			return IndexSpec{Name: spec.Name, Fields: append([]string(nil), spec.Fields...)}, true
		}
	}
	return IndexSpec{}, false
}

// GetID returns the canonical string form of the identifier of record. Zero
// identifiers are reported as "".
func (d *Descriptor[T]) GetID(record T) string {
	v, ok := structValue(reflect.ValueOf(&record).Elem())
	if !ok {
		return ""
	}
	return formatID(v.FieldByIndex(d.info.id.index))
}

// SetID parses id into the identifier field of record.
func (d *Descriptor[T]) SetID(record *T, id string) error {
	if record == nil {
		return store.BadInput("NIL_RECORD", "cannot set identifier on a nil record")
	}
	v, ok := structValue(reflect.ValueOf(record).Elem())
	if !ok {
		return store.BadInput("NIL_RECORD", "cannot set identifier on a nil record")
	}
	return parseID(v.FieldByIndex(d.info.id.index), id)
}

// WithID returns a copy of record carrying id.
func (d *Descriptor[T]) WithID(record T, id string) (T, error) {
	if err := d.SetID(&record, id); err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

// NewID generates an identifier for kinds that support it (string and uuid).
func (d *Descriptor[T]) NewID() (string, error) {
	switch {
	case d.info.id.typ == uuidType, d.info.id.typ.Kind() == reflect.String:
		return uuid.NewString(), nil
	}
	return "", ErrIDNotGenerated
}

// ValidateID reports whether id can be stored in the identifier field.
func (d *Descriptor[T]) ValidateID(id string) error {
	probe := reflect.New(d.info.id.typ).Elem()
	return parseID(probe, id)
}

// Field returns the value of the named field of record.
func (d *Descriptor[T]) Field(record T, name string) (any, bool) {
	fi, ok := d.info.fields[name]
	if !ok {
		return nil, false
	}
	v, ok := structValue(reflect.ValueOf(&record).Elem())
	if !ok {
		return nil, false
	}
	return v.FieldByIndex(fi.index).Interface(), true
}

// Getter adapts record to query.FieldGetter.
func (d *Descriptor[T]) Getter(record T) query.FieldGetter {
	v, ok := structValue(reflect.ValueOf(&record).Elem())
	return func(name string) (any, bool) {
		fi, known := d.info.fields[name]
		if !known || !ok {
			return nil, false
		}
		return v.FieldByIndex(fi.index).Interface(), true
	}
}

// Matches evaluates predicate against record.
func (d *Descriptor[T]) Matches(predicate query.Predicate, record T) (bool, error) {
	return query.Match(predicate, d.Getter(record))
}

// HasField reports whether T has an exported field called name.
func (d *Descriptor[T]) HasField(name string) bool {
	_, ok := d.info.fields[name]
	return ok
}

// FieldType returns the declared type of the named field.
func (d *Descriptor[T]) FieldType(name string) (reflect.Type, bool) {
	fi, ok := d.info.fields[name]
	return fi.typ, ok
}

// Coerce converts value to the declared type of field. It refuses lossy
// conversions, so 1.5 is never coerced into an int field.
func (d *Descriptor[T]) Coerce(field string, value any) (any, bool) {
	fi, ok := d.info.fields[field]
	if !ok {
		return nil, false
	}
	return coerce(fi.typ, value)
}

func coerce(target reflect.Type, value any) (any, bool) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		switch target.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			return reflect.Zero(target).Interface(), true
		}
		return nil, false
	}
	if rv.Type() == target {
		return value, true
	}
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type() == target {
		return rv.Elem().Interface(), true
	}
	if !compatibleKinds(rv.Kind(), target.Kind()) || !rv.Type().ConvertibleTo(target) {
		return nil, false
	}
	converted := rv.Convert(target)
	if !query.Equal(converted.Interface(), value) {
		return nil, false
	}
	return converted.Interface(), true
}

func compatibleKinds(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
	}
	if numeric(from) && numeric(to) {
		return true
	}
	return from == to
}

func structValue(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct
}

func formatID(f reflect.Value) string {
	if f.Type() == uuidType {
		u := f.Interface().(uuid.UUID)
		if u == uuid.Nil {
			return ""
		}
		return u.String()
	}
	switch f.Kind() {
	case reflect.String:
		return f.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f.Int() == 0 {
			return ""
		}
		return strconv.FormatInt(f.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f.Uint() == 0 {
			return ""
		}
		return strconv.FormatUint(f.Uint(), 10)
	}
	return ""
}

func parseID(f reflect.Value, id string) error {
	if f.Type() == uuidType {
		if id == "" {
			f.Set(reflect.ValueOf(uuid.Nil))
			return nil
		}
		u, err := uuid.Parse(id)
		if err != nil {
			return store.BadInput("INVALID_ID", "malformed uuid identifier "+strconv.Quote(id))
		}
		f.Set(reflect.ValueOf(u))
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(id)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if id == "" {
			f.SetInt(0)
			return nil
		}
		n, err := strconv.ParseInt(id, 10, f.Type().Bits())
		if err != nil {
			return store.BadInput("INVALID_ID", "malformed integer identifier "+strconv.Quote(id))
		}
		f.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if id == "" {
			f.SetUint(0)
			return nil
		}
		n, err := strconv.ParseUint(id, 10, f.Type().Bits())
		if err != nil {
			return store.BadInput("INVALID_ID", "malformed integer identifier "+strconv.Quote(id))
		}
		f.SetUint(n)
		return nil
	}
	return store.BadInput("INVALID_ID", "unsupported identifier kind "+f.Type().String())
}

func sortedIndexes(groups map[string][]string) []IndexSpec {
	out := make([]IndexSpec, 0, len(groups))
	for name, fields := range groups {
		fs := append([]string(nil), fields...)
		sort.Strings(fs)
		out = append(out, IndexSpec{Name: name, Fields: fs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
