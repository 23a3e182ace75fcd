package freshness

import (
	"fmt"
	"strings"
	"time"
)

// Preference is the caller's latency/consistency trade-off for one read.
type Preference int

const (
	// Fast emits cached data immediately and refreshes in the background.
	Fast Preference = iota
	// Secure refreshes empty or stale data before emitting, falling back to the cache.
	Secure
	// Fresh always refreshes and never emits data that predates the refresh.
	Fresh
)

func (p Preference) String() string {
	switch p {
	case Fast:
		return "fast"
	case Secure:
		return "secure"
	case Fresh:
		return "fresh"
	default:
		return fmt.Sprintf("preference(%d)", int(p))
	}
}

// ParsePreference maps "fast", "secure" or "fresh" to a Preference.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return Fast, nil
	case "secure":
		return Secure, nil
	case "fresh":
		return Fresh, nil
	default:
		return Fast, fmt.Errorf("freshness: unknown preference %q", s)
	}
}

// StaleAfter is the fixed age after which a cached item is stale.
const StaleAfter = 24 * time.Hour

// IsStale reports whether an item cached at cachedAt is stale at now.
func IsStale(cachedAt, now time.Time) bool {
	return now.Sub(cachedAt) > StaleAfter
}

// Cacheable is implemented by every cached entity.
type Cacheable interface {
	CacheTime() time.Time
}
