// Package cache defines the freshness store and the key scheme used by the
// resource cache engine.
//
// CacheService stores fetched payloads for a TTL and coalesces concurrent
// misses for the same key. The default implementation is backed by sturdyc
// (see NewCacheService).
//
// KeySerializer turns an endpoint name and its parameters into a key:
//
//	s := cache.NewKeySerializer("marketplace")
//	s.SerializeKey("list", MarketplaceParams{Status: "sold"})
//	// marketplace::list::{Status=sold}
//
// Segments are built as follows:
//
//   - Strings are escaped so user input cannot produce a separator
//   - Pointers are dereferenced and nil renders as "nil"
//   - Structs list their exported non-zero fields in declaration order
//   - Maps and url.Values are sorted by key
//   - Segments longer than MaxSegmentLength are replaced by an xxhash digest
//
// Two different parameter tuples never produce the same key, barring a 64-bit
// digest collision on oversized segments.
package cache
