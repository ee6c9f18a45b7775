// Package di wires the shared pieces of repository pipelines from one
// configuration: the cache service, the key serializer, the metrics recorder
// and the change event writer.
package di

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/metrics"
	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/pipeline"
	"github.com/goliatone/go-repository-pipeline/repositorycache"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Option overrides what the container would otherwise build from Config.
type Option func(*Container)

// WithRedisClient uses client for the redis backend instead of dialing
// Config.Cache.Redis.Addr.
func WithRedisClient(client cache.RedisClient) Option {
	return func(c *Container) { c.redisClient = client }
}

// WithMessageWriter uses w for change events instead of a kafka writer built
// from Config.Kafka.
func WithMessageWriter(w notify.MessageWriter) Option {
	return func(c *Container) { c.writer = w }
}

// WithRegisterer registers the pipeline counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) { c.registerer = reg }
}

// WithLogger sets the logger handed to every pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Container holds the singletons shared by the pipelines of an application.
type Container struct {
	config Config
	logger *slog.Logger

	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	recorder      metrics.Recorder
	registerer    prometheus.Registerer
	registry      *prometheus.Registry

	redisClient cache.RedisClient
	writer      notify.MessageWriter
	closers     []func() error
}

// NewContainer validates config and builds the shared services.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Container{config: config, logger: slog.Default(), recorder: metrics.Noop{}}
	for _, opt := range opts {
		opt(c)
	}

	c.keySerializer = cache.NewDefaultKeySerializer()
	if n := config.Cache.MaxKeyLength; n > 0 {
		c.keySerializer = cache.NewHashingKeySerializer(c.keySerializer, n)
	}

	if err := c.buildCache(); err != nil {
		return nil, errors.Join(err, c.Close())
	}
	if config.Metrics.Enabled {
		if c.registerer == nil {
			c.registry = prometheus.NewRegistry()
			c.registerer = c.registry
		}
		c.recorder = metrics.NewPrometheus(c.registerer, config.Metrics.Namespace)
	}
	if c.writer == nil && config.Kafka != nil {
		w, err := notify.NewKafkaWriter(*config.Kafka)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
		c.writer = w
		c.closers = append(c.closers, w.Close)
	}

	c.logger.Debug("repository container ready",
		"cache", config.Cache.Backend,
		"metrics", config.Metrics.Enabled,
		"notifications", c.writer != nil,
	)
	return c, nil
}

// NewContainerWithDefaults builds a container from DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

func (c *Container) buildCache() error {
	cfg := c.config.Cache
	switch cfg.Backend {
	case BackendRedis:
		if c.redisClient == nil {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			c.redisClient = client
			c.closers = append(c.closers, client.Close)
		}
		svc, err := cache.NewRedisCacheService(c.redisClient, cache.RedisConfig{
			Namespace: cfg.Redis.Namespace,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return err
		}
		c.cacheService = svc
	default:
		svc, err := cache.NewCacheService(cfg.sturdyc())
		if err != nil {
			return err
		}
		c.cacheService = svc
	}
	return nil
}

// CacheService returns the shared cache service.
func (c *Container) CacheService() cache.CacheService { return c.cacheService }

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }

// Recorder returns the metrics recorder, Noop when metrics are disabled.
func (c *Container) Recorder() metrics.Recorder { return c.recorder }

// Registry returns the registry the container created for its counters, or nil
// when metrics are disabled or an external registerer was supplied.
func (c *Container) Registry() *prometheus.Registry { return c.registry }

// Config returns a copy of the configuration.
func (c *Container) Config() Config { return c.config }

// Logger returns the logger given to pipelines.
func (c *Container) Logger() *slog.Logger { return c.logger }

// Notifies reports whether pipelines publish change events.
func (c *Container) Notifies() bool { return c.writer != nil }

// Close releases the connections the container opened itself.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) cacheOptions() []repositorycache.Option {
	return []repositorycache.Option{
		repositorycache.WithKeySerializer(c.keySerializer),
		repositorycache.WithNamespace(c.config.Namespace),
		repositorycache.WithRecorder(c.recorder),
		repositorycache.WithConcurrency(c.config.Concurrency),
	}
}

// NewPipeline starts the standard pipeline for T over base: the identity cache,
// the index cache when T declares an index, then any extra stages, and change
// notifications when the container has a writer. Notification is already the
// outermost stage in that case, so further stages belong in extra rather than
// on the returned builder.
//
// Go methods cannot have type parameters, so this is a package level function.
func NewPipeline[T any](c *Container, base store.Repository[T], extra ...pipeline.Stage[T]) (*pipeline.Builder[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	b := pipeline.New(base).
		WithLogger(c.logger).
		WithIdentityCache(c.cacheService, c.cacheOptions()...)
	if desc.HasSecondaryIndex() {
		b.WithIndexCache(c.cacheService, c.cacheOptions()...)
	}
	for _, stage := range extra {
		b.With(stage)
	}
	if c.writer != nil {
		pub, err := notify.NewKafka[T](c.writer)
		if err != nil {
			return nil, err
		}
		b.WithNotification(pub,
			notify.WithRecorder(c.recorder),
			notify.WithConcurrency(c.config.Concurrency),
		)
	}
	return b, nil
}

// NewRepository builds the standard pipeline for T over base.
func NewRepository[T any](c *Container, base store.Repository[T]) (store.Repository[T], error) {
	b, err := NewPipeline(c, base)
	if err != nil {
		return nil, err
	}
	return b.Build()
}

var _ notify.MessageWriter = (*kafka.Writer)(nil)
