// Package cache provides the refresh coalescing service used by the freshness engine.
//
// # Overview
//
// This package exports two main interfaces and their default implementations:
//
//   - CacheService: coalesces concurrent fetches for one key and memoises successes
//   - KeySerializer: builds stable keys from an entity kind and identifiers
//
// The freshness engine keys every remote refresh by entity kind and id, so N
// simultaneous readers of the same resource produce at most one in-flight remote
// call. A successful refresh is reused for the configured TTL, which also acts as
// the per-key refresh rate limit.
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	keys := cache.NewDefaultKeySerializer()
//	key := keys.SerializeKey("Grades", accountID)
//
//	grades, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) ([]Grade, error) {
//		return refreshGrades(ctx, accountID)
//	})
//
// # Key Layout
//
// Keys are "kind::arg::arg" with the kind in snake_case ("Grades" becomes
// "grades"). Prefix(kind) yields the shared prefix for DeleteByPrefix.
//
// # Error Handling
//
// Fetch errors are returned to every coalesced caller and are never memoised,
// so the next call retries the source.
package cache
