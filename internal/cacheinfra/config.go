package cacheinfra

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int

	// TTL is how long a fetched payload stays fresh.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EarlyRefresh configures sturdyc background refreshes. Nil disables them.
	EarlyRefresh *EarlyRefreshConfig

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the defaults used by the campus client. Payloads are
// fresh for five minutes; background refreshes are disabled.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the optional settings to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
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
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

const (
	msgPositive    = "must be greater than 0"
	msgPercentage  = "must be between 1 and 100"
	msgNonNegative = "must be non-negative"
)

// Validate checks if the configuration values are valid. The first failing
// field, in declaration order, is reported as a *ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required.Error(msgPositive), validation.Min(1).Error(msgPositive)),
		validation.Field(&c.NumShards, validation.Required.Error(msgPositive), validation.Min(1).Error(msgPositive)),
		validation.Field(&c.TTL, validation.Required.Error(msgPositive), validation.Min(1).Error(msgPositive)),
		validation.Field(&c.EvictionPercentage,
			validation.Required.Error(msgPercentage),
			validation.Min(1).Error(msgPercentage),
			validation.Max(100).Error(msgPercentage)),
		validation.Field(&c.EvictionInterval, validation.Min(0).Error(msgNonNegative)),
	)
	if cfgErr := firstError("", err, "Capacity", "NumShards", "TTL", "EvictionPercentage", "EvictionInterval"); cfgErr != nil {
		return cfgErr
	}

	if e := c.EarlyRefresh; e != nil {
		err := validation.ValidateStruct(e,
			validation.Field(&e.MinAsyncRefreshTime, validation.Min(0).Error(msgNonNegative)),
			validation.Field(&e.MaxAsyncRefreshTime, validation.Min(0).Error(msgNonNegative)),
			validation.Field(&e.SyncRefreshTime, validation.Min(0).Error(msgNonNegative)),
			validation.Field(&e.RetryBaseDelay, validation.Min(0).Error(msgNonNegative)),
		)
		if cfgErr := firstError("EarlyRefresh.", err,
			"MinAsyncRefreshTime", "MaxAsyncRefreshTime", "SyncRefreshTime", "RetryBaseDelay"); cfgErr != nil {
			return cfgErr
		}
	}
	return nil
}

// firstError maps ozzo-validation field errors to a *ConfigError, picking the
// first field of order that failed.
func firstError(prefix string, err error, order ...string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, name := range order {
		if fe, ok := fieldErrs[name]; ok && fe != nil {
			return &ConfigError{Field: prefix + name, Message: fe.Error()}
		}
	}
	return err
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
