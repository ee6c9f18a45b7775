package di

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/metrics"
	"github.com/goliatone/go-repository-pipeline/pkg/testsupport"
	"github.com/goliatone/go-repository-pipeline/store"
)

func TestLoadConfig_Fixture(t *testing.T) {
	cfg, err := LoadConfig(testsupport.FixturePath("pipeline.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Namespace)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Redis.TTL)
	assert.Equal(t, 10000, cfg.Cache.Capacity, "unset fields keep their defaults")
	require.NotNil(t, cfg.Kafka)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestParseConfig_Invalid(t *testing.T) {
	var cases []struct {
		Name  string `yaml:"name"`
		Field string `yaml:"field"`
		YAML  string `yaml:"yaml"`
	}
	testsupport.LoadFixtureYAML(t, testsupport.FixturePath("invalid_configs.yaml"), &cases)
	require.NotEmpty(t, cases)

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.YAML))
			require.Error(t, err)
			var cfgErr *store.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.Field, cfgErr.Field)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: app\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.Namespace)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewContainerWithDefaults(t *testing.T) {
	c, err := NewContainerWithDefaults()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.NotNil(t, c.CacheService())
	assert.NotNil(t, c.KeySerializer())
	assert.Equal(t, metrics.Noop{}, c.Recorder())
	assert.Nil(t, c.Registry())
	assert.False(t, c.Notifies())
	assert.Equal(t, DefaultConfig(), c.Config())

	assert.Same(t, c.CacheService(), c.CacheService())
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.NumShards = 0
	_, err := NewContainer(cfg)
	assert.True(t, store.IsConfigError(err))
}

func TestContainer_KeySerializer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.MaxKeyLength = 32
	c, err := NewContainer(cfg)
	require.NoError(t, err)

	short := c.KeySerializer().SerializeKey("user", "42")
	assert.Equal(t, "user::42", short)

	long := c.KeySerializer().SerializeKey("user", strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(long), 32)
}

func TestContainer_Metrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics = MetricsConfig{Enabled: true, Namespace: "test"}
	c, err := NewContainer(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.Registry())

	c.Recorder().CacheLookup(metrics.LayerIdentity, "User", metrics.Hit)
	prom, ok := c.Recorder().(*metrics.Prometheus)
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Lookups().WithLabelValues(metrics.LayerIdentity, "User", string(metrics.Hit))))

	reg := prometheus.NewRegistry()
	external, err := NewContainer(cfg, WithRegisterer(reg))
	require.NoError(t, err)
	assert.Nil(t, external.Registry())
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestContainer_RedisBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendRedis
	cfg.Cache.Redis = RedisConfig{Addr: "unused:6379", Namespace: "t:", TTL: time.Minute}

	client := &mapRedis{data: map[string]string{}}
	c, err := NewContainer(cfg, WithRedisClient(client))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.CacheService().Set(ctx, "k", "v"))
	_, ok := client.data["t:k"]
	assert.True(t, ok, "keys carry the redis namespace")

	got, found, err := cache.Get[string](ctx, c.CacheService(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)
	assert.NoError(t, c.Close(), "injected clients are not closed by the container")
}

func TestContainer_KafkaWriter(t *testing.T) {
	cfg := DefaultConfig()
	w := &capturingWriter{}
	c, err := NewContainer(cfg, WithMessageWriter(w))
	require.NoError(t, err)
	assert.True(t, c.Notifies())

	cfg.Kafka = nil
	plain, err := NewContainer(cfg)
	require.NoError(t, err)
	assert.False(t, plain.Notifies())
}

// mapRedis is a RedisClient over a map, enough for Set, Get and Del.
type mapRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mapRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (m *mapRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mapRedis) Scan(_ context.Context, _ uint64, _ string, _ int64) *redis.ScanCmd {
	return redis.NewScanCmdResult(nil, 0, nil)
}

// capturingWriter records every kafka message.
type capturingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *capturingWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}
