package cacheinfra

import (
	"context"
	"strings"

	"github.com/viccon/sturdyc"
)

// SturdycService stores fetched payloads in a sturdyc client. sturdyc also
// coalesces concurrent misses for the same key into one fetch.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SturdycService{client: client}, nil
}

// GetOrFetch returns the fresh value for key or runs fetchFn and stores its
// result. Errors are not cached.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}
	return s.client.GetOrFetch(ctx, key, fetchFn)
}

// Peek returns the cached value for key without fetching.
func (s *SturdycService) Peek(key string) (any, bool) {
	return s.client.Get(key)
}

// Delete removes a single entry.
func (s *SturdycService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes the given entries.
func (s *SturdycService) InvalidateKeys(_ context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Size returns the number of stored entries.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
