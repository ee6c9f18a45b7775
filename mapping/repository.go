package mapping

import (
	"context"
	"reflect"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Option customizes a mapping repository.
type Option func(*config)

type config struct {
	renames map[string]string
}

// WithFieldRename maps the class field name to a differently named entity field
// when rewriting predicates.
func WithFieldRename(classField, entityField string) Option {
	return func(c *config) { c.renames[classField] = entityField }
}

// Repository exposes a store.Repository[TEntity] as a store.Repository[TClass].
// Inputs are mapped to TEntity before forwarding, outputs back to TClass, and
// predicates over TClass fields are rewritten to the matching TEntity fields.
type Repository[TClass, TEntity any] struct {
	store.LoggerSlot

	inner       store.Repository[TEntity]
	toEntity    Mapper[TClass, TEntity]
	toClass     Mapper[TEntity, TClass]
	renames     map[string]string
	classFields map[string]reflect.StructField
	entityField map[string]reflect.StructField
	className   string
	entityName  string
}

// New wraps inner. Both mappers are required; NewFieldMapper builds the usual
// field by name pair.
func New[TClass, TEntity any](inner store.Repository[TEntity], toEntity Mapper[TClass, TEntity], toClass Mapper[TEntity, TClass], opts ...Option) (*Repository[TClass, TEntity], error) {
	if inner == nil {
		return nil, &store.ConfigError{Field: "inner", Message: "inner repository is required"}
	}
	if toEntity == nil || toClass == nil {
		return nil, &store.ConfigError{Field: "mapper", Message: "both mappers are required"}
	}
	classT, _, err := structOf(reflect.TypeFor[TClass]())
	if err != nil {
		return nil, err
	}
	entityT, _, err := structOf(reflect.TypeFor[TEntity]())
	if err != nil {
		return nil, err
	}

	cfg := config{renames: map[string]string{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[TClass, TEntity]{
		inner:       inner,
		toEntity:    toEntity,
		toClass:     toClass,
		renames:     cfg.renames,
		classFields: exportedFields(classT),
		entityField: exportedFields(entityT),
		className:   classT.Name(),
		entityName:  entityT.Name(),
	}, nil
}

// NewWithFieldMappers wraps inner with a FieldMapper in each direction. Renames
// apply to the mappers and to predicate rewriting alike.
func NewWithFieldMappers[TClass, TEntity any](inner store.Repository[TEntity], opts ...Option) (*Repository[TClass, TEntity], error) {
	cfg := config{renames: map[string]string{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	reverse := make(map[string]string, len(cfg.renames))
	for class, ent := range cfg.renames {
		reverse[ent] = class
	}
	toEntity, err := NewFieldMapper[TClass, TEntity](reverse)
	if err != nil {
		return nil, err
	}
	toClass, err := NewFieldMapper[TEntity, TClass](cfg.renames)
	if err != nil {
		return nil, err
	}
	return New[TClass, TEntity](inner, toEntity, toClass, opts...)
}

// Inner returns the wrapped entity repository.
func (r *Repository[TClass, TEntity]) Inner() store.Repository[TEntity] { return r.inner }

// RewritePredicate translates p from class fields to entity fields. A class
// field without an entity counterpart is a configuration error.
func (r *Repository[TClass, TEntity]) RewritePredicate(p query.Predicate) (query.Predicate, error) {
	if err := store.CheckPredicate(p); err != nil {
		return query.Predicate{}, err
	}
	return query.RewriteFields(p, func(field string) (string, error) {
		if _, ok := r.classFields[field]; !ok {
			return "", &store.ConfigError{Type: r.className, Field: field, Message: "unknown class field"}
		}
		target := field
		if renamed, ok := r.renames[field]; ok {
			target = renamed
		}
		if _, ok := r.entityField[target]; !ok {
			return "", &store.ConfigError{Type: r.entityName, Field: target, Message: "no corresponding entity field for " + field}
		}
		return target, nil
	})
}

func (r *Repository[TClass, TEntity]) GetByID(ctx context.Context, id string) (TClass, bool, error) {
	var zero TClass
	e, found, err := r.inner.GetByID(ctx, id)
	if err != nil || !found {
		return zero, found, err
	}
	c, err := r.outbound(e)
	if err != nil {
		return zero, false, err
	}
	return c, true, nil
}

func (r *Repository[TClass, TEntity]) GetAll(ctx context.Context) ([]TClass, error) {
	es, err := r.inner.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return r.outboundAll(es)
}

func (r *Repository[TClass, TEntity]) Query(ctx context.Context, predicate query.Predicate) ([]TClass, error) {
	p, err := r.RewritePredicate(predicate)
	if err != nil {
		return nil, err
	}
	es, err := r.inner.Query(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.outboundAll(es)
}

func (r *Repository[TClass, TEntity]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (TClass, bool, error) {
	var zero TClass
	p, err := r.RewritePredicate(predicate)
	if err != nil {
		return zero, false, err
	}
	e, found, err := r.inner.FirstOrDefault(ctx, p)
	if err != nil || !found {
		return zero, found, err
	}
	c, err := r.outbound(e)
	if err != nil {
		return zero, false, err
	}
	return c, true, nil
}

func (r *Repository[TClass, TEntity]) Save(ctx context.Context, record TClass, mode store.WriteMode) (store.OperationResult, error) {
	e, err := r.inbound(record)
	if err != nil {
		return store.OperationResult{}, err
	}
	return r.inner.Save(ctx, e, mode)
}

func (r *Repository[TClass, TEntity]) SaveMany(ctx context.Context, records []TClass, mode store.WriteMode) ([]store.OperationResult, error) {
	es := make([]TEntity, len(records))
	for i, rec := range records {
		e, err := r.inbound(rec)
		if err != nil {
			return nil, err
		}
		es[i] = e
	}
	return r.inner.SaveMany(ctx, es, mode)
}

func (r *Repository[TClass, TEntity]) Delete(ctx context.Context, id string) (store.OperationResult, error) {
	return r.inner.Delete(ctx, id)
}

func (r *Repository[TClass, TEntity]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	p, err := r.RewritePredicate(predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	return r.inner.DeleteWhere(ctx, p)
}

func (r *Repository[TClass, TEntity]) inbound(c TClass) (TEntity, error) {
	e, err := r.toEntity.Map(c)
	if err != nil {
		return e, goerrors.Wrap(err, goerrors.CategoryBadInput, "map "+r.className+" to "+r.entityName)
	}
	return e, nil
}

func (r *Repository[TClass, TEntity]) outbound(e TEntity) (TClass, error) {
	c, err := r.toClass.Map(e)
	if err != nil {
		return c, goerrors.Wrap(err, goerrors.CategoryBadInput, "map "+r.entityName+" to "+r.className)
	}
	return c, nil
}

func (r *Repository[TClass, TEntity]) outboundAll(es []TEntity) ([]TClass, error) {
	out := make([]TClass, len(es))
	for i, e := range es {
		c, err := r.outbound(e)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
