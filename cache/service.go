package cache

import "context"

// KeySerializer builds a cache key from an endpoint name and its parameters.
// Keys must be stable across calls and distinct for distinct parameter tuples.
type KeySerializer interface {
	SerializeKey(endpoint string, params ...any) string
}

// FetchFn loads a value from the backend when the cache has none.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the freshness store behind the resource cache engine.
// Values are stored for the configured TTL; concurrent misses for one key
// share a single fetch.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error)
	// Peek returns a fresh cached value without fetching.
	Peek(key string) (any, bool)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
	Size() int
}

// GetOrFetch is a type-safe wrapper around CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if result == nil {
		var zero T
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, &TypeMismatchError{Key: key, Got: result}
	}
	return typed, nil
}
