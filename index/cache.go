package index

import (
	"context"
	"reflect"

	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Status is the outcome of resolving a predicate through an index.
type Status int

const (
	// NotFound means the predicate maps to a key that has never been recorded.
	NotFound Status = iota
	// Found means the key maps to an identifier.
	Found
	// KnownAbsent means the key was recorded as matching no entity.
	KnownAbsent
	// Unanswerable means the predicate does not bind every indexed field to a
	// single value. Callers must fall back to the store.
	Unanswerable
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case KnownAbsent:
		return "known_absent"
	case Unanswerable:
		return "unanswerable"
	}
	return "unknown"
}

// Lookup is returned by FindIDByQuery. ID is set only when Status is Found.
type Lookup struct {
	Status Status
	ID     string
}

// Entry is the value stored under an index key.
type Entry struct {
	ID     string `msgpack:"id"`
	Absent bool   `msgpack:"absent"`
}

// Cache maps the values of one composite index to entity identifiers.
type Cache[T any] struct {
	spec   entity.IndexSpec
	desc   *entity.Descriptor[T]
	store  cache.CacheService
	keys   cache.KeySerializer
	prefix string
}

// New builds a cache for the named index of T.
func New[T any](svc cache.CacheService, indexName string, opts ...Option) (*Cache[T], error) {
	if svc == nil {
		return nil, &store.ConfigError{Field: "cache", Message: "cache service is required"}
	}
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	spec, ok := desc.Index(indexName)
	if !ok {
		return nil, &store.ConfigError{Type: desc.TypeName(), Message: "index " + indexName + " is not declared"}
	}
	for _, f := range spec.Fields {
		if t, _ := desc.FieldType(f); !keyable(t) {
			return nil, &store.ConfigError{Type: desc.TypeName(), Field: f, Message: "index fields cannot hold " + t.String()}
		}
	}

	o := applyOptions(opts)
	return &Cache[T]{
		spec:   spec,
		desc:   desc,
		store:  svc,
		keys:   o.keys,
		prefix: o.namespace + "idx:" + desc.TypeName() + ":" + spec.Name,
	}, nil
}

// keyable reports whether values of t render to a key a predicate can reproduce.
// Functions and channels render by address.
func keyable(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}

// Name returns the index name.
func (c *Cache[T]) Name() string { return c.spec.Name }

// Fields returns the sorted index fields.
func (c *Cache[T]) Fields() []string { return append([]string(nil), c.spec.Fields...) }

// Prefix is shared by every key this cache writes.
func (c *Cache[T]) Prefix() string { return c.prefix }

// Key returns the index key of record.
func (c *Cache[T]) Key(record T) string {
	args := make([]any, 0, 2*len(c.spec.Fields))
	for _, f := range c.spec.Fields {
		v, _ := c.desc.Field(record, f)
		args = append(args, f, v)
	}
	return c.keys.SerializeKey(c.prefix, args...)
}

// keyFor builds the key implied by constraints. It reports false when the
// constraints do not bind every indexed field, or bind one to a value the field
// cannot hold.
func (c *Cache[T]) keyFor(cons query.Constraints) (string, bool) {
	if !cons.Covers(c.spec.Fields) {
		return "", false
	}
	args := make([]any, 0, 2*len(c.spec.Fields))
	for _, f := range c.spec.Fields {
		raw, _ := cons.Value(f)
		v, ok := c.desc.Coerce(f, raw)
		if !ok {
			return "", false
		}
		args = append(args, f, v)
	}
	return c.keys.SerializeKey(c.prefix, args...), true
}

// Covers reports whether p binds every indexed field.
func (c *Cache[T]) Covers(p query.Predicate) bool {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return false
	}
	_, ok := c.keyFor(cons)
	return ok
}

// Exact reports whether p is a pure conjunction binding exactly the indexed
// fields, in which case a negative answer may be memoized.
func (c *Cache[T]) Exact(p query.Predicate) bool {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return false
	}
	if !cons.Exactly(c.spec.Fields) {
		return false
	}
	_, ok := c.keyFor(cons)
	return ok
}

// KeyMatches reports whether record still carries the indexed values p binds.
// A false result for an identifier resolved through p means the entry is stale.
func (c *Cache[T]) KeyMatches(p query.Predicate, record T) bool {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return false
	}
	key, ok := c.keyFor(cons)
	return ok && key == c.Key(record)
}

// Index associates the indexed values of record with its identifier. Records
// without an identifier are skipped.
func (c *Cache[T]) Index(ctx context.Context, record T) error {
	id := c.desc.GetID(record)
	if id == "" {
		return nil
	}
	return c.store.Set(ctx, c.Key(record), Entry{ID: id})
}

// DeIndex removes the entry under the current key of record.
func (c *Cache[T]) DeIndex(ctx context.Context, record T) error {
	return c.store.Delete(ctx, c.Key(record))
}

// DeIndexByQuery removes the entry p maps to. It is a no-op when p does not bind
// every indexed field.
func (c *Cache[T]) DeIndexByQuery(ctx context.Context, p query.Predicate) error {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return err
	}
	key, ok := c.keyFor(cons)
	if !ok {
		return nil
	}
	return c.store.Delete(ctx, key)
}

// FindIDByQuery resolves p through the index. Equality constraints on fields
// outside the index are ignored for key construction.
func (c *Cache[T]) FindIDByQuery(ctx context.Context, p query.Predicate) (Lookup, error) {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return Lookup{}, err
	}
	key, ok := c.keyFor(cons)
	if !ok {
		return Lookup{Status: Unanswerable}, nil
	}

	entry, found, err := cache.Get[Entry](ctx, c.store, key)
	switch {
	case err != nil:
		return Lookup{}, err
	case !found:
		return Lookup{Status: NotFound}, nil
	case entry.Absent:
		return Lookup{Status: KnownAbsent}, nil
	}
	return Lookup{Status: Found, ID: entry.ID}, nil
}

// IndexByQuery records id under the key p maps to. An empty id stores the
// known-absent marker. It is a no-op when p does not bind every indexed field.
func (c *Cache[T]) IndexByQuery(ctx context.Context, p query.Predicate, id string) error {
	cons, err := query.ExtractEqualityConstraints(p)
	if err != nil {
		return err
	}
	key, ok := c.keyFor(cons)
	if !ok {
		return nil
	}
	if id == "" {
		return c.store.Set(ctx, key, Entry{Absent: true})
	}
	return c.store.Set(ctx, key, Entry{ID: id})
}

// Clear drops every entry of this index.
func (c *Cache[T]) Clear(ctx context.Context) error {
	return c.store.DeleteByPrefix(ctx, c.prefix)
}
