// Package config loads client settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-campus-client/cache"
	"github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/storage"
	"github.com/goliatone/go-campus-client/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreKind selects the persistent key-value adapter.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
	StoreSQLite StoreKind = "sqlite"
	StoreRedis  StoreKind = "redis"
)

// Config holds every client setting.
type Config struct {
	APIURL      string
	HTTPTimeout time.Duration

	// KeepUnusedFor is how long query results without subscribers are kept.
	KeepUnusedFor time.Duration
	Cache         cache.Config

	Store       StoreKind
	StorePath   string
	RedisAddr   string
	RedisPrefix string

	// ProactiveRefresh refreshes tokens whose expiry is within RefreshSkew
	// before sending instead of waiting for a 401.
	ProactiveRefresh bool
	RefreshSkew      time.Duration

	LogLevel string
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		APIURL:        "http://localhost:3000",
		HTTPTimeout:   transport.DefaultTimeout,
		KeepUnusedFor: resourcecache.DefaultKeepUnusedFor,
		Cache:         cache.DefaultConfig(),
		Store:         StoreMemory,
		RedisPrefix:   "campus:",
		RefreshSkew:   30 * time.Second,
		LogLevel:      "info",
	}
}

// Load reads CAMPUS_* variables over DefaultConfig. Malformed values keep
// the default.
func Load() Config {
	cfg := DefaultConfig()
	cfg.APIURL = strings.TrimRight(getenv("CAMPUS_API_URL", cfg.APIURL), "/")
	cfg.HTTPTimeout = getenvDuration("CAMPUS_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.Cache.TTL = getenvDuration("CAMPUS_CACHE_TTL", cfg.Cache.TTL)
	cfg.KeepUnusedFor = getenvDuration("CAMPUS_KEEP_UNUSED_FOR", cfg.KeepUnusedFor)
	cfg.Store = StoreKind(strings.ToLower(getenv("CAMPUS_STORE", string(cfg.Store))))
	cfg.StorePath = getenv("CAMPUS_STORE_PATH", cfg.StorePath)
	cfg.RedisAddr = getenv("CAMPUS_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPrefix = getenv("CAMPUS_REDIS_PREFIX", cfg.RedisPrefix)
	cfg.ProactiveRefresh = getenvBool("CAMPUS_PROACTIVE_REFRESH", cfg.ProactiveRefresh)
	cfg.RefreshSkew = getenvDuration("CAMPUS_REFRESH_SKEW", cfg.RefreshSkew)
	cfg.LogLevel = getenv("CAMPUS_LOG_LEVEL", cfg.LogLevel)
	return cfg
}

const (
	msgRequired    = "is required"
	msgPositive    = "must be greater than 0"
	msgNonNegative = "must be non-negative"
)

// Validate reports the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.APIURL, validation.Required.Error(msgRequired), is.RequestURL),
		validation.Field(&c.HTTPTimeout, validation.Required.Error(msgPositive), validation.Min(time.Nanosecond).Error(msgPositive)),
		validation.Field(&c.KeepUnusedFor, validation.Min(time.Duration(0)).Error(msgNonNegative)),
		validation.Field(&c.Store, validation.Required.Error(msgRequired),
			validation.In(StoreMemory, StoreFile, StoreSQLite, StoreRedis).Error("must be one of memory, file, sqlite, redis")),
		validation.Field(&c.StorePath,
			validation.When(c.Store == StoreFile || c.Store == StoreSQLite, validation.Required.Error("is required for file and sqlite stores"))),
		validation.Field(&c.RedisAddr,
			validation.When(c.Store == StoreRedis, validation.Required.Error("is required for the redis store"))),
		validation.Field(&c.RefreshSkew, validation.Min(time.Duration(0)).Error(msgNonNegative)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error").Error("must be one of debug, info, warn, error")),
	)
	if err != nil {
		var fieldErrs validation.Errors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, name := range []string{"APIURL", "HTTPTimeout", "KeepUnusedFor", "Store", "StorePath", "RedisAddr", "RefreshSkew", "LogLevel"} {
			if fe, ok := fieldErrs[name]; ok && fe != nil {
				return &ConfigError{Field: name, Message: fe.Error()}
			}
		}
		return err
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// OpenStore builds the configured persistent store. The returned close
// function releases its connection and is never nil.
func (c Config) OpenStore(ctx context.Context) (storage.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Store {
	case StoreMemory, "":
		return storage.NewMemoryStore(), noop, nil
	case StoreFile:
		return storage.NewFileStore(c.StorePath), noop, nil
	case StoreSQLite:
		s, err := storage.OpenSQLite(ctx, c.StorePath)
		if err != nil {
			return nil, noop, fmt.Errorf("config.OpenStore: %w", err)
		}
		return s, s.Close, nil
	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("config.OpenStore: redis %s: %w", c.RedisAddr, err)
		}
		return storage.NewRedisStore(client, c.RedisPrefix), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("config.OpenStore: unknown store %q", c.Store)
	}
}

// Logger builds a production zap logger at LogLevel.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config.Logger: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = "console"
	return zc.Build()
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
