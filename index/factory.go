package index

import (
	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Option customizes index caches.
type Option func(*options)

type options struct {
	keys      cache.KeySerializer
	namespace string
}

// WithKeySerializer replaces the default key serializer.
func WithKeySerializer(keys cache.KeySerializer) Option {
	return func(o *options) {
		if keys != nil {
			o.keys = keys
		}
	}
}

// WithNamespace prefixes every index key, which keeps several pipelines apart
// when they share one cache service.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns + ":"
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{keys: cache.NewDefaultKeySerializer()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Factory builds the index caches declared by entity types.
type Factory struct {
	svc  cache.CacheService
	opts []Option
}

// NewFactory returns a factory whose caches share svc.
func NewFactory(svc cache.CacheService, opts ...Option) (*Factory, error) {
	if svc == nil {
		return nil, &store.ConfigError{Field: "cache", Message: "cache service is required"}
	}
	return &Factory{svc: svc, opts: opts}, nil
}

// CreateIndexCachesForType returns one cache per composite index declared by T,
// the default index first. Types without an index yield none.
func CreateIndexCachesForType[T any](f *Factory) ([]*Cache[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}

	specs := desc.Indexes()
	out := make([]*Cache[T], 0, len(specs))
	if _, ok := desc.Index(entity.DefaultIndex); ok {
		c, err := New[T](f.svc, entity.DefaultIndex, f.opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, spec := range specs {
		if spec.Name == entity.DefaultIndex {
			continue
		}
		c, err := New[T](f.svc, spec.Name, f.opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
