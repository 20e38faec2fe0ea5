// Package resourcecache is the query cache shared by every resource domain.
//
// One Engine exists per domain (events, clubs, marketplace, messages, users).
// Domains declare typed queries and mutations on their engine:
//
//	engine := resourcecache.NewEngine("Events", store)
//	list := resourcecache.NewQuery(engine, "list", fetchEvents,
//		func(resourcecache.NoParams, []domain.Event, error) []resourcecache.Tag {
//			return []resourcecache.Tag{resourcecache.TypeTag(resourcecache.TagEvents)}
//		})
//	create := resourcecache.NewMutation(engine, "create", createEvent,
//		func(domain.Event, domain.Event) []resourcecache.Tag {
//			return []resourcecache.Tag{resourcecache.TypeTag(resourcecache.TagEvents)}
//		})
//
// # Entries
//
// Every distinct key (domain namespace, query name, parameters) owns one entry
// with a status (idle, loading, success, error), the last good data, the last
// error and the tags it provides. Guarantees:
//
//   - At most one fetch per key is in flight; concurrent subscribers share it
//   - A failed refetch keeps the previous data (stale-while-error)
//   - Entries with subscribers are never collected; an entry without
//     subscribers is removed after KeepUnusedFor
//   - Unsubscribing never cancels a fetch
//
// Payload freshness is delegated to a cache.CacheService: a successful
// payload is served from it until its TTL expires.
//
// # Tags
//
// Mutations invalidate tags after they succeed. A tag without ID matches every
// provided tag of its type; a tag with ID matches only provided tags with the
// same ID. Matched entries with subscribers refetch at once, others are
// marked stale and refetch on their next subscription. If a fetch is in
// flight, exactly one follow-up fetch runs after it.
//
// Tags are indexed by tag and by type when entries are registered or
// collected, so invalidation never scans the entry table.
package resourcecache
