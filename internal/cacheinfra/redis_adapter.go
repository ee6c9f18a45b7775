package cacheinfra

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Encoded is a msgpack payload read back from a shared cache. Callers decode it
// into the type they expect.
type Encoded []byte

// Decode unmarshals the payload into out.
func (e Encoded) Decode(out any) error {
	return msgpack.Unmarshal(e, out)
}

// RedisClient is the subset of the go-redis API used by the redis service.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisConfig configures the shared redis cache.
type RedisConfig struct {
	// Namespace is prepended to every key.
	Namespace string
	// TTL applies to every entry. Zero stores entries without expiration.
	TTL time.Duration
	// ScanCount is the batch size used when deleting by prefix.
	ScanCount int64
}

// missingMarker is stored for keys whose fetch reported ErrNotFound.
var missingMarker = []byte{0xc0, 0xde, 0xad}

type redisService struct {
	client RedisClient
	cfg    RedisConfig
	group  singleflight.Group
}

// NewRedisService builds a cache service over client. Values are msgpack
// encoded on write and returned as Encoded on read.
func NewRedisService(client RedisClient, cfg RedisConfig) (*redisService, error) {
	if client == nil {
		return nil, &ConfigError{Field: "client", Message: "cannot be nil"}
	}
	if cfg.TTL < 0 {
		return nil, &ConfigError{Field: "TTL", Message: "must be non-negative"}
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	return &redisService{client: client, cfg: cfg}, nil
}

func (s *redisService) key(k string) string {
	return s.cfg.Namespace + k
}

// GetOrFetch reads key from redis and falls back to fetchFn. Concurrent misses
// for the same key share one fetch.
func (s *redisService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	switch {
	case err == nil:
		if isMissing(raw) {
			return nil, ErrMissingRecord
		}
		return Encoded(raw), nil
	case !errors.Is(err, redis.Nil):
		return nil, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		value, err := callFetchFunction(ctx, fetchFn)
		if errors.Is(err, ErrNotFound) {
			if setErr := s.client.Set(ctx, s.key(key), missingMarker, s.cfg.TTL).Err(); setErr != nil {
				return nil, setErr
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if err := s.Set(ctx, key, value); err != nil {
			return nil, err
		}
		return value, nil
	})
	return v, err
}

// Get returns the encoded entry stored under key.
func (s *redisService) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if isMissing(raw) {
		return nil, false, nil
	}
	return Encoded(raw), true, nil
}

// Set encodes value with msgpack and stores it under key.
func (s *redisService) Set(ctx context.Context, key string, value any) error {
	if enc, ok := value.(Encoded); ok {
		return s.client.Set(ctx, s.key(key), []byte(enc), s.cfg.TTL).Err()
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), payload, s.cfg.TTL).Err()
}

// Delete removes a single entry.
func (s *redisService) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// DeleteByPrefix scans for keys starting with prefix and removes them in
// batches.
func (s *redisService) DeleteByPrefix(ctx context.Context, prefix string) error {
	match := escapeGlob(s.key(prefix)) + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, s.cfg.ScanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// InvalidateKeys removes the given entries.
func (s *redisService) InvalidateKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

func isMissing(raw []byte) bool {
	return bytes.Equal(raw, missingMarker)
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
