package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer builds a cache key from an entity kind and identifying args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(kind string, args ...any) string
}

// entityKeySerializer namespaces keys by snake_cased entity kind.
// Only scalar identifiers are expected; anything else is formatted with %v.
type entityKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return entityKeySerializer{}
}

// SerializeKey builds "kind::arg::arg". A nil pointer arg becomes "nil".
func (entityKeySerializer) SerializeKey(kind string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, toSnake(kind))

	for _, arg := range args {
		parts = append(parts, serializeArg(arg))
	}

	return strings.Join(parts, KeySeparator)
}

// Prefix returns the key prefix shared by every key of kind.
func Prefix(kind string) string {
	return toSnake(kind) + KeySeparator
}

func serializeArg(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return t
	case *int:
		if t == nil {
			return "nil"
		}
		return fmt.Sprintf("%d", *t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toSnake converts the provided string to snake_case using ASCII-aware rules.
// Punctuation collapses into a single underscore so prefix invalidation keeps working.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
