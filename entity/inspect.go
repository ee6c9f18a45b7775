package entity

import (
	"reflect"
	"strings"

	"github.com/goliatone/go-repository-pipeline/store"
)

// TagName is the struct tag read by Describe.
//
//	type Account struct {
//		ID     uuid.UUID `repo:"id"`
//		Tenant string    `repo:"index"`
//		Email  string    `repo:"index,index:by_email"`
//	}
const TagName = "repo"

func inspect(t reflect.Type) (*typeInfo, error) {
	info := &typeInfo{
		typ:    t,
		name:   t.Name(),
		fields: map[string]fieldInfo{},
	}
	if info.name == "" {
		info.name = t.String()
	}

	var idFields []fieldInfo
	groups := map[string][]string{}

	for _, sf := range reflect.VisibleFields(t) {
		if (sf.Anonymous && sf.Type.Kind() == reflect.Struct) || throughPointer(t, sf.Index) {
			continue
		}
		tag := sf.Tag.Get(TagName)
		if tag == "-" {
			continue
		}
		if !sf.IsExported() {
			if tag != "" {
				return nil, &store.ConfigError{Type: info.name, Field: sf.Name, Message: "tagged field must be exported"}
			}
			continue
		}

		fi := fieldInfo{name: sf.Name, index: sf.Index, typ: sf.Type}
		info.fields[sf.Name] = fi
		info.fieldNames = append(info.fieldNames, sf.Name)

		for _, opt := range strings.Split(tag, ",") {
			opt = strings.TrimSpace(opt)
			switch {
			case opt == "id":
				idFields = append(idFields, fi)
			case opt == "index":
				groups[DefaultIndex] = append(groups[DefaultIndex], sf.Name)
			case strings.HasPrefix(opt, "index:"):
				name := strings.TrimPrefix(opt, "index:")
				if name == "" {
					return nil, &store.ConfigError{Type: info.name, Field: sf.Name, Message: "index name is empty"}
				}
				groups[name] = append(groups[name], sf.Name)
			}
		}
	}

	if len(idFields) == 0 {
		for _, name := range []string{"ID", "Id"} {
			if fi, ok := info.fields[name]; ok {
				idFields = append(idFields, fi)
				break
			}
		}
	}

	switch len(idFields) {
	case 0:
		return nil, &store.ConfigError{Type: info.name, Message: "no identifier field found"}
	case 1:
		info.id = idFields[0]
	default:
		return nil, &store.ConfigError{Type: info.name, Field: idFields[1].name, Message: "more than one identifier field"}
	}

	if !supportedIDType(info.id.typ) {
		return nil, &store.ConfigError{Type: info.name, Field: info.id.name, Message: "unsupported identifier type " + info.id.typ.String()}
	}

	info.indexes = sortedIndexes(groups)
	return info, nil
}

func supportedIDType(t reflect.Type) bool {
	if t == uuidType {
		return true
	}
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// Registration is an explicit metadata table that replaces struct tags for a type.
type Registration struct {
	// IDField names the identifier field.
	IDField string
	// Indexes maps an index name to its member fields. Use DefaultIndex for the
	// primary composite index.
	Indexes map[string][]string
}

// Register installs explicit metadata for T, replacing anything previously
// discovered for the type.
func Register[T any](reg Registration) error {
	t, err := structType(reflect.TypeFor[T]())
	if err != nil {
		return err
	}

	base, err := inspectFields(t)
	if err != nil {
		return err
	}

	id, ok := base.fields[reg.IDField]
	if !ok {
		return &store.ConfigError{Type: base.name, Field: reg.IDField, Message: "identifier field not found"}
	}
	if !supportedIDType(id.typ) {
		return &store.ConfigError{Type: base.name, Field: reg.IDField, Message: "unsupported identifier type " + id.typ.String()}
	}
	base.id = id

	for name, fields := range reg.Indexes {
		if len(fields) == 0 {
			return &store.ConfigError{Type: base.name, Message: "index " + name + " has no fields"}
		}
		for _, f := range fields {
			if _, ok := base.fields[f]; !ok {
				return &store.ConfigError{Type: base.name, Field: f, Message: "indexed field not found"}
			}
		}
	}
	base.indexes = sortedIndexes(reg.Indexes)

	registry.Store(t, base)
	return nil
}

// inspectFields collects exported fields without interpreting tags.
func inspectFields(t reflect.Type) (*typeInfo, error) {
	info := &typeInfo{typ: t, name: t.Name(), fields: map[string]fieldInfo{}}
	if info.name == "" {
		info.name = t.String()
	}
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || (sf.Anonymous && sf.Type.Kind() == reflect.Struct) || throughPointer(t, sf.Index) {
			continue
		}
		info.fields[sf.Name] = fieldInfo{name: sf.Name, index: sf.Index, typ: sf.Type}
		info.fieldNames = append(info.fieldNames, sf.Name)
	}
	return info, nil
}

// throughPointer reports whether a promoted field is reached through an embedded
// pointer, which may be nil at read time.
func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}
