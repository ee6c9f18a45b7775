package di

import (
	"errors"
	"os"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the file level configuration of a Container.
type Config struct {
	// Namespace prefixes every cache key written by the pipelines.
	Namespace string `yaml:"namespace"`
	// Concurrency bounds the lookups a batch write runs at once.
	Concurrency int `yaml:"concurrency"`

	Cache   CacheConfig         `yaml:"cache"`
	Kafka   *notify.KafkaConfig `yaml:"kafka"`
	Metrics MetricsConfig       `yaml:"metrics"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend              string        `yaml:"backend"`
	Capacity             int           `yaml:"capacity"`
	NumShards            int           `yaml:"num_shards"`
	TTL                  time.Duration `yaml:"ttl"`
	EvictionPercentage   int           `yaml:"eviction_percentage"`
	MissingRecordStorage bool          `yaml:"missing_record_storage"`
	// MaxKeyLength digests longer keys. Zero keeps keys as serialized.
	MaxKeyLength int `yaml:"max_key_length"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig locates the shared cache.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns an in-process setup without notifications or metrics.
func DefaultConfig() Config {
	defaults := cache.DefaultConfig()
	return Config{
		Concurrency: 8,
		Cache: CacheConfig{
			Backend:              BackendMemory,
			Capacity:             defaults.Capacity,
			NumShards:            defaults.NumShards,
			TTL:                  defaults.TTL,
			EvictionPercentage:   defaults.EvictionPercentage,
			MissingRecordStorage: defaults.MissingRecordStorage,
			Redis:                RedisConfig{TTL: defaults.TTL},
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, store.External(err, "read config "+path)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &store.ConfigError{Field: "yaml", Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field as a *store.ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Concurrency, validation.Min(0).Error("must be non-negative")),
	)
	if err != nil {
		return firstConfigError("", err)
	}

	cc := c.Cache
	err = validation.ValidateStruct(&cc,
		validation.Field(&cc.Backend, validation.Required, validation.In(BackendMemory, BackendRedis).Error("must be memory or redis")),
		validation.Field(&cc.MaxKeyLength, validation.Min(0).Error("must be non-negative")),
	)
	if err != nil {
		return firstConfigError("cache.", err)
	}

	switch cc.Backend {
	case BackendMemory:
		if err := cc.sturdyc().Validate(); err != nil {
			return &store.ConfigError{Field: "cache", Message: err.Error()}
		}
	case BackendRedis:
		r := cc.Redis
		err = validation.ValidateStruct(&r,
			validation.Field(&r.Addr, validation.Required.Error("address is required")),
			validation.Field(&r.DB, validation.Min(0).Error("must be non-negative")),
			validation.Field(&r.TTL, validation.Min(time.Duration(0)).Error("must be non-negative")),
		)
		if err != nil {
			return firstConfigError("cache.redis.", err)
		}
	}

	if c.Kafka != nil {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (cc CacheConfig) sturdyc() cache.Config {
	return cache.Config{
		Capacity:             cc.Capacity,
		NumShards:            cc.NumShards,
		TTL:                  cc.TTL,
		EvictionPercentage:   cc.EvictionPercentage,
		MissingRecordStorage: cc.MissingRecordStorage,
	}
}

func firstConfigError(prefix string, err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &store.ConfigError{Field: prefix, Message: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &store.ConfigError{Field: prefix + fields[0], Message: verrs[fields[0]].Error()}
}
