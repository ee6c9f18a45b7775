// Package pipeline assembles decorated repositories from ordered stages.
//
// Stages wrap the backing store in the order they are added, so the first stage
// sits right above the store and the last one is what callers talk to:
//
//	repo, err := pipeline.New[User](backing).
//		WithIdentityCache(svc).
//		WithIndexCache(svc).
//		WithNotification(publisher).
//		WithLogger(logger).
//		Build()
//
// Build checks the assembly: each stage kind appears at most once, notification
// is the outermost stage, and an index stage needs a type that declares an index.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/repositorycache"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Kind identifies what a stage does.
type Kind string

const (
	KindIdentity     Kind = "identity"
	KindIndex        Kind = "index"
	KindNotification Kind = "notification"
	// KindCustom stages are not subject to the uniqueness rule.
	KindCustom Kind = "custom"
)

// Factory wraps inner with one decorator.
type Factory[T any] func(inner store.Repository[T]) (store.Repository[T], error)

// Stage is one step of the pipeline.
type Stage[T any] struct {
	Kind    Kind
	Name    string
	Factory Factory[T]
}

// Builder collects stages over a backing repository.
type Builder[T any] struct {
	base   store.Repository[T]
	stages []Stage[T]
	logger *slog.Logger
}

// New starts a pipeline over base.
func New[T any](base store.Repository[T]) *Builder[T] {
	return &Builder[T]{base: base}
}

// With appends a stage.
func (b *Builder[T]) With(stage Stage[T]) *Builder[T] {
	b.stages = append(b.stages, stage)
	return b
}

// WithIdentityCache appends the identifier cache.
func (b *Builder[T]) WithIdentityCache(svc cache.CacheService, opts ...repositorycache.Option) *Builder[T] {
	return b.With(Stage[T]{
		Kind: KindIdentity,
		Name: "identity-cache",
		Factory: func(inner store.Repository[T]) (store.Repository[T], error) {
			return repositorycache.NewIdentityCache[T](inner, svc, opts...)
		},
	})
}

// WithIndexCache appends the secondary-index cache.
func (b *Builder[T]) WithIndexCache(svc cache.CacheService, opts ...repositorycache.Option) *Builder[T] {
	return b.With(Stage[T]{
		Kind: KindIndex,
		Name: "index-cache",
		Factory: func(inner store.Repository[T]) (store.Repository[T], error) {
			return repositorycache.NewIndexed[T](inner, svc, opts...)
		},
	})
}

// WithNotification appends the change notifier.
func (b *Builder[T]) WithNotification(pub notify.Publisher[T], opts ...notify.Option) *Builder[T] {
	return b.With(Stage[T]{
		Kind: KindNotification,
		Name: "notification",
		Factory: func(inner store.Repository[T]) (store.Repository[T], error) {
			return notify.New[T](inner, pub, opts...)
		},
	})
}

// WithLogger sets the logger of the backing store and of every stage.
func (b *Builder[T]) WithLogger(logger *slog.Logger) *Builder[T] {
	b.logger = logger
	return b
}

// Stages returns the configured stages, innermost first.
func (b *Builder[T]) Stages() []Stage[T] {
	return append([]Stage[T](nil), b.stages...)
}

// Build validates the assembly and wraps the backing store.
func (b *Builder[T]) Build() (store.Repository[T], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	repo := b.base
	if b.logger != nil {
		repo.SetLogger(b.logger)
	}
	for _, stage := range b.stages {
		next, err := stage.Factory(repo)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %s: %w", stage.Name, err)
		}
		if b.logger != nil {
			next.SetLogger(b.logger.With("stage", stage.Name))
		}
		repo = next
	}
	return repo, nil
}

func (b *Builder[T]) validate() error {
	if b.base == nil {
		return &store.ConfigError{Field: "base", Message: "backing repository is required"}
	}
	seen := map[Kind]bool{}
	for i, stage := range b.stages {
		if stage.Factory == nil {
			return &store.ConfigError{Field: stage.Name, Message: "stage has no factory"}
		}
		if stage.Kind != KindCustom {
			if seen[stage.Kind] {
				return &store.ConfigError{Field: stage.Name, Message: "stage kind " + string(stage.Kind) + " added twice"}
			}
			seen[stage.Kind] = true
		}
		if stage.Kind == KindNotification && i != len(b.stages)-1 {
			return &store.ConfigError{Field: stage.Name, Message: "notification must be the outermost stage"}
		}
	}
	if seen[KindIndex] {
		desc, err := entity.Describe[T]()
		if err != nil {
			return err
		}
		if !desc.HasSecondaryIndex() {
			return &store.ConfigError{Type: desc.TypeName(), Field: "index-cache", Message: "type declares no secondary index"}
		}
	}
	return nil
}

// Layers lists repo and every repository it decorates, outermost first.
func Layers[T any](repo store.Repository[T]) []store.Repository[T] {
	var out []store.Repository[T]
	for repo != nil {
		out = append(out, repo)
		d, ok := repo.(store.Decorator[T])
		if !ok {
			break
		}
		repo = d.Inner()
	}
	return out
}
