package pipeline

import (
	"github.com/goliatone/go-repository-pipeline/mapping"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Mapped builds b and exposes the result as a repository of TClass, copying
// fields by name. Renames apply to mapping and predicate rewriting alike.
func Mapped[TClass, TEntity any](b *Builder[TEntity], opts ...mapping.Option) (store.Repository[TClass], error) {
	inner, err := b.Build()
	if err != nil {
		return nil, err
	}
	repo, err := mapping.NewWithFieldMappers[TClass, TEntity](inner, opts...)
	if err != nil {
		return nil, err
	}
	if b.logger != nil {
		repo.SetLogger(b.logger.With("stage", "mapping"))
	}
	return repo, nil
}
