package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-campus-client/internal/cacheinfra"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	// EarlyRefresh enables sturdyc background refreshes. Background refreshes
	// update the store but do not notify subscribers, so it is off by default.
	EarlyRefresh     *EarlyRefreshConfig
	EvictionInterval time.Duration
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config populated with the client defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the sturdyc-backed CacheService.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return sturdycService{svc}, nil
}

// sturdycService adapts the infra service's plain function type.
type sturdycService struct {
	*cacheinfra.SturdycService
}

func (s sturdycService) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	return s.SturdycService.GetOrFetch(ctx, key, fetchFn)
}

func (c Config) toInternal() cacheinfra.Config {
	var early *cacheinfra.EarlyRefreshConfig
	if c.EarlyRefresh != nil {
		early = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: c.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: c.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     c.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      c.EarlyRefresh.RetryBaseDelay,
		}
	}
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EarlyRefresh:       early,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	var early *EarlyRefreshConfig
	if cfg.EarlyRefresh != nil {
		early = &EarlyRefreshConfig{
			MinAsyncRefreshTime: cfg.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: cfg.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     cfg.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      cfg.EarlyRefresh.RetryBaseDelay,
		}
	}
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EarlyRefresh:       early,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
