package cacheinfra

import (
	"errors"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the in-process sturdyc cache.
type Config struct {
	// Capacity is the maximum number of entries held by the cache. Must be > 0.
	Capacity int

	// NumShards splits the cache for concurrent access. Must be > 0.
	NumShards int

	// TTL is the default time-to-live for cached entries. Must be > 0.
	TTL time.Duration

	// EvictionPercentage is the share of entries evicted when the cache is
	// full. Must be between 1 and 100.
	EvictionPercentage int

	// EarlyRefresh configures background refreshes. Nil disables them.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage lets the cache remember identifiers that the
	// backing store reported as absent.
	MissingRecordStorage bool

	// EvictionInterval sets how often expired entries are swept. Zero keeps
	// the sturdyc default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:             10000,
		NumShards:            256,
		TTL:                  5 * time.Minute,
		EvictionPercentage:   10,
		MissingRecordStorage: true,
	}
}

// ToSturdycOptions converts the optional parts of Config into sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage are constructor arguments.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks the configuration and reports the first invalid field as a
// *ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required.Error("must be greater than 0"), validation.Min(1).Error("must be greater than 0")),
		validation.Field(&c.NumShards, validation.Required.Error("must be greater than 0"), validation.Min(1).Error("must be greater than 0")),
		validation.Field(&c.TTL, validation.Required.Error("must be greater than 0"), validation.Min(time.Nanosecond).Error("must be greater than 0")),
		validation.Field(&c.EvictionPercentage,
			validation.Required.Error("must be between 1 and 100"),
			validation.Min(1).Error("must be between 1 and 100"),
			validation.Max(100).Error("must be between 1 and 100"),
		),
	)
	if err != nil {
		return firstConfigError("", err)
	}

	if e := c.EarlyRefresh; e != nil {
		err = validation.ValidateStruct(e,
			validation.Field(&e.MinAsyncRefreshTime, validation.Min(time.Duration(0)).Error("must be non-negative")),
			validation.Field(&e.MaxAsyncRefreshTime, validation.Min(time.Duration(0)).Error("must be non-negative")),
			validation.Field(&e.SyncRefreshTime, validation.Min(time.Duration(0)).Error("must be non-negative")),
			validation.Field(&e.RetryBaseDelay, validation.Min(time.Duration(0)).Error("must be non-negative")),
		)
		if err != nil {
			return firstConfigError("EarlyRefresh.", err)
		}
	}

	return nil
}

// firstConfigError flattens ozzo validation errors into a single ConfigError,
// picking the alphabetically first field so the result is stable.
func firstConfigError(prefix string, err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Field: strings.TrimSuffix(prefix, "."), Message: err.Error()}
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	return &ConfigError{Field: prefix + fields[0], Message: verrs[fields[0]].Error()}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
