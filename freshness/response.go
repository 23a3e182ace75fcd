package freshness

import "errors"

var (
	// ErrCredentialRequired is returned synchronously by Read when a Fresh read
	// has no way to reach the remote source. It signals a caller bug.
	ErrCredentialRequired = errors.New("freshness: fresh read requires a credential")

	// ErrCacheEmpty is emitted by Secure reads whose refresh failed with nothing
	// cached to fall back on. The refresh error is wrapped alongside it.
	ErrCacheEmpty = errors.New("freshness: refresh failed and cache is empty")
)

// Origin tells where an emitted value came from.
type Origin int

const (
	OriginCache Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "cache"
}

// Response is one emission of a policy read: a value or an error.
type Response[T any] struct {
	Value  T
	Err    error
	Origin Origin
}

// OK reports whether the response carries a value.
func (r Response[T]) OK() bool {
	return r.Err == nil
}
