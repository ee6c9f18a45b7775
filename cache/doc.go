// Package cache provides the key/value cache abstraction and key serialization
// shared by the repository decorators.
//
// # Overview
//
// Two interfaces are exported together with default implementations:
//
//   - CacheService: atomic single-key get, set, delete and read-through fetch
//   - KeySerializer: builds stable cache keys from a method name and arguments
//
// NewCacheService returns an in-process service backed by sturdyc. It is the
// default for both the identity cache and the secondary-index cache.
// NewRedisCacheService returns a service shared through redis; values are
// msgpack encoded and come back as Encoded, which the typed helpers Get and
// GetOrFetch decode into the requested type.
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	user, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (User, error) {
//		u, found, err := repo.GetByID(ctx, id)
//		if err == nil && !found {
//			return u, cache.ErrNotFound
//		}
//		return u, err
//	})
//
// Returning ErrNotFound from a fetch lets the service remember the miss when it
// supports missing record storage. IsNotFound recognizes both the fresh and the
// remembered form.
//
// # Key Serialization Strategy
//
// The default key serializer handles:
//
//   - Basic types: direct string representation
//   - Text marshalers (time.Time, uuid.UUID): their text form
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs for deterministic output
//   - Structs: exported fields with name:value pairs
//   - Function pointers and channels: %p formatting, stable only within a process
//
// NewHashingKeySerializer wraps a serializer and digests over-long keys with
// xxhash while keeping the method segment, so prefix deletes keep working.
package cache
