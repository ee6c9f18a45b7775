package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-repository-pipeline/internal/cacheinfra"
)

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the key/value cache shared by the identity and index decorators.
// Implementations must make every operation an atomic single-key action.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Encoded is returned by shared backends that store serialized values. The typed
// helpers decode it transparently.
type Encoded = cacheinfra.Encoded

var (
	// ErrInvalidResultType is returned when a cached value cannot be converted
	// to the requested type.
	ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

	// ErrNotFound is returned from a FetchFn to report that the source of truth
	// holds no record for the key. Services may remember the miss.
	ErrNotFound = cacheinfra.ErrNotFound
)

// IsNotFound reports whether err is a fresh or remembered miss.
func IsNotFound(err error) bool {
	return cacheinfra.IsNotFound(err)
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](result)
}

// Get returns the typed value stored under key.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool, error) {
	var zero T
	result, ok, err := service.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := as[T](result)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func as[T any](result any) (T, error) {
	var zero T
	switch v := result.(type) {
	case nil:
		return zero, nil
	case T:
		return v, nil
	case Encoded:
		var out T
		if err := v.Decode(&out); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrInvalidResultType, err)
		}
		return out, nil
	}
	return zero, fmt.Errorf("%w: got %T, want %T", ErrInvalidResultType, result, zero)
}
