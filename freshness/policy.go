package freshness

import (
	"context"
	"time"

	"github.com/goliatone/go-vplan-cache/internal/watch"
)

// RefreshFn fetches from the remote source, writes the result into the store
// and returns what it fetched.
type RefreshFn[T any] func(ctx context.Context) (T, error)

// CachedFn opens a continuous query over the store.
type CachedFn[T any] func(ctx context.Context) <-chan watch.Result[T]

// Policy describes one read for the engine.
type Policy[T any] struct {
	// Kind labels logs and metrics, e.g. "grades".
	Kind string
	// Key identifies the remote resource; refreshes sharing a key are coalesced.
	Key string
	// Cached is the continuous cache read.
	Cached CachedFn[T]
	// Refresh is nil when no credential is available.
	Refresh RefreshFn[T]
	// Empty reports a snapshot with nothing in it.
	Empty func(T) bool
	// Stale reports a snapshot that should be refreshed at now.
	Stale func(T, time.Time) bool
}

// ListPolicy builds a Policy over a list of entities. A list is stale only
// when every item in it is stale.
func ListPolicy[E Cacheable](kind, key string, cached CachedFn[[]E], refresh RefreshFn[[]E]) Policy[[]E] {
	return Policy[[]E]{
		Kind:    kind,
		Key:     key,
		Cached:  cached,
		Refresh: refresh,
		Empty:   func(items []E) bool { return len(items) == 0 },
		Stale:   AllStale[E],
	}
}

// ItemPolicy builds a Policy over a single optional entity.
func ItemPolicy[E Cacheable](kind, key string, cached CachedFn[*E], refresh RefreshFn[*E]) Policy[*E] {
	return Policy[*E]{
		Kind:    kind,
		Key:     key,
		Cached:  cached,
		Refresh: refresh,
		Empty:   func(item *E) bool { return item == nil },
		Stale: func(item *E, now time.Time) bool {
			return item != nil && IsStale((*item).CacheTime(), now)
		},
	}
}

// AllStale reports whether items is non-empty and every item is stale.
func AllStale[E Cacheable](items []E, now time.Time) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !IsStale(item.CacheTime(), now) {
			return false
		}
	}
	return true
}
