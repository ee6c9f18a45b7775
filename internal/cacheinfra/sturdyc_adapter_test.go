package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Capacity:           100,
		NumShards:          4,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if !cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be true")
	}
	if cfg.EarlyRefresh != nil {
		t.Error("expected early refresh to be disabled by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
		errorMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid capacity - zero",
			mutate:    func(c *Config) { c.Capacity = 0 },
			wantField: "Capacity",
			errorMsg:  "must be greater than 0",
		},
		{
			name:      "invalid num shards - negative",
			mutate:    func(c *Config) { c.NumShards = -1 },
			wantField: "NumShards",
			errorMsg:  "must be greater than 0",
		},
		{
			name:      "invalid TTL - negative",
			mutate:    func(c *Config) { c.TTL = -time.Second },
			wantField: "TTL",
			errorMsg:  "must be greater than 0",
		},
		{
			name:      "invalid eviction percentage - too high",
			mutate:    func(c *Config) { c.EvictionPercentage = 101 },
			wantField: "EvictionPercentage",
			errorMsg:  "must be between 1 and 100",
		},
		{
			name: "invalid early refresh retry delay",
			mutate: func(c *Config) {
				c.EarlyRefresh = &EarlyRefreshConfig{
					MinAsyncRefreshTime: time.Second,
					MaxAsyncRefreshTime: 2 * time.Second,
					SyncRefreshTime:     3 * time.Second,
					RetryBaseDelay:      -time.Millisecond,
				}
			},
			wantField: "EarlyRefresh.RetryBaseDelay",
			errorMsg:  "must be non-negative",
		},
		{
			name: "several invalid fields report the first by name",
			mutate: func(c *Config) {
				c.TTL = 0
				c.Capacity = 0
			},
			wantField: "Capacity",
			errorMsg:  "must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("expected no validation error but got: %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, cfgErr.Field)
			}
			if !strings.Contains(cfgErr.Message, tt.errorMsg) {
				t.Errorf("expected message to contain %q, got %q", tt.errorMsg, cfgErr.Message)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := testConfig()
	if n := len(cfg.ToSturdycOptions()); n != 0 {
		t.Errorf("expected no sturdyc options for minimal config, got %d", n)
	}

	cfg.MissingRecordStorage = true
	cfg.EvictionInterval = time.Second
	cfg.EarlyRefresh = &EarlyRefreshConfig{
		MinAsyncRefreshTime: time.Second,
		MaxAsyncRefreshTime: 2 * time.Second,
		SyncRefreshTime:     3 * time.Second,
		RetryBaseDelay:      time.Millisecond,
	}
	if n := len(cfg.ToSturdycOptions()); n != 3 {
		t.Errorf("expected 3 sturdyc options, got %d", n)
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "TestField", Message: "test message"}
	expected := "config error in field TestField: test message"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestNewSturdycService(t *testing.T) {
	svc, err := NewSturdycService(testConfig())
	if err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
	if svc == nil {
		t.Fatal("expected service to be non-nil")
	}

	bad := testConfig()
	bad.Capacity = 0
	svc, err = NewSturdycService(bad)
	if err == nil {
		t.Fatal("expected error but got none")
	}
	if svc != nil {
		t.Error("expected service to be nil when error occurs")
	}
}

func TestSturdycService_GetOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("cache miss calls fetch once", func(t *testing.T) {
		svc, _ := NewSturdycService(testConfig())
		calls := 0
		fetch := func(ctx context.Context) (string, error) {
			calls++
			return "value", nil
		}

		for i := 0; i < 3; i++ {
			got, err := svc.GetOrFetch(ctx, "k", fetch)
			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
			if got != "value" {
				t.Errorf("expected %q, got %v", "value", got)
			}
		}
		if calls != 1 {
			t.Errorf("expected fetch to run once, ran %d times", calls)
		}
	})

	t.Run("fetch errors are returned", func(t *testing.T) {
		svc, _ := NewSturdycService(testConfig())
		boom := errors.New("boom")
		_, err := svc.GetOrFetch(ctx, "k", func(ctx context.Context) (int, error) { return 0, boom })
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})

	t.Run("not found is remembered", func(t *testing.T) {
		cfg := testConfig()
		cfg.MissingRecordStorage = true
		svc, _ := NewSturdycService(cfg)

		calls := 0
		fetch := func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrNotFound
		}
		for i := 0; i < 2; i++ {
			_, err := svc.GetOrFetch(ctx, "missing", fetch)
			if !IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		}
		if calls != 1 {
			t.Errorf("expected fetch to run once, ran %d times", calls)
		}
	})

	invalid := []struct {
		name    string
		fetchFn any
	}{
		{"nil", nil},
		{"not a function", "nope"},
		{"no context", func() (int, error) { return 0, nil }},
		{"no error", func(ctx context.Context) (int, int) { return 0, 0 }},
	}
	for _, tt := range invalid {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			svc, _ := NewSturdycService(testConfig())
			result, err := svc.GetOrFetch(ctx, "k", tt.fetchFn)
			if result != nil {
				t.Errorf("expected nil result but got: %v", result)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != "fetchFn" {
				t.Errorf("expected fetchFn ConfigError, got %v", err)
			}
		})
	}
}

func TestSturdycService_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewSturdycService(testConfig())

	if _, ok, _ := svc.Get(ctx, "a"); ok {
		t.Fatal("expected empty cache")
	}

	_ = svc.Set(ctx, "a", 1)
	v, ok, err := svc.Get(ctx, "a")
	if err != nil || !ok || v != 1 {
		t.Fatalf("expected 1, got %v (ok=%v err=%v)", v, ok, err)
	}

	_ = svc.Delete(ctx, "a")
	if _, ok, _ := svc.Get(ctx, "a"); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestSturdycService_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewSturdycService(testConfig())

	for _, key := range []string{"user::1", "user::2", "order::1"} {
		_ = svc.Set(ctx, key, key)
	}

	if err := svc.DeleteByPrefix(ctx, "user::"); err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}

	for key, want := range map[string]bool{"user::1": false, "user::2": false, "order::1": true} {
		if _, ok, _ := svc.Get(ctx, key); ok != want {
			t.Errorf("key %s: expected present=%v", key, want)
		}
	}
	if svc.Size() != 1 {
		t.Errorf("expected 1 entry, got %d", svc.Size())
	}
}

func TestSturdycService_InvalidateKeys(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewSturdycService(testConfig())

	_ = svc.Set(ctx, "a", 1)
	_ = svc.Set(ctx, "b", 2)
	_ = svc.Set(ctx, "c", 3)

	if err := svc.InvalidateKeys(ctx, []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
	if _, ok, _ := svc.Get(ctx, "b"); !ok {
		t.Error("expected b to survive")
	}
	if err := svc.InvalidateKeys(ctx, nil); err != nil {
		t.Errorf("expected nil key list to be accepted, got %v", err)
	}
}
