package freshness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/cache"
	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/internal/telemetry"
)

// Engine applies a Preference to policy reads. It owns the scope that Fast-mode
// background refreshes run in, so cancelling one read never aborts a refresh
// another reader may be waiting on.
type Engine struct {
	svc     cache.CacheService
	now     func() time.Time
	log     zerolog.Logger
	metrics *telemetry.Metrics

	bg     context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the collectors refreshes are recorded in.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine that coalesces refreshes through svc.
func NewEngine(svc cache.CacheService, opts ...Option) *Engine {
	bg, stop := context.WithCancel(context.Background())
	e := &Engine{
		svc:  svc,
		now:  time.Now,
		log:  logging.Component("freshness"),
		bg:   bg,
		stop: stop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Close cancels detached refreshes and waits for them to return.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
}

// Invalidate drops memoised refresh results for every key of the given kinds.
func (e *Engine) Invalidate(ctx context.Context, kinds ...string) error {
	var errs []error
	for _, kind := range kinds {
		if err := e.svc.DeleteByPrefix(ctx, cache.Prefix(kind)); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// Read opens a policy read. The returned channel closes when ctx ends (or, for
// a failed Fresh read, after the error). A Fresh read without a Refresh
// function fails with ErrCredentialRequired before anything is emitted.
func Read[T any](ctx context.Context, e *Engine, pref Preference, p Policy[T]) (<-chan Response[T], error) {
	if p.Cached == nil || p.Empty == nil || p.Stale == nil {
		return nil, errors.New("freshness: incomplete policy")
	}
	if pref == Fresh && p.Refresh == nil {
		return nil, fmt.Errorf("%w (%s)", ErrCredentialRequired, p.Kind)
	}

	out := make(chan Response[T])
	switch pref {
	case Fresh:
		go readFresh(ctx, e, p, out)
	case Fast, Secure:
		go readCached(ctx, e, pref, p, out)
	default:
		return nil, fmt.Errorf("freshness: unsupported preference %s", pref)
	}
	return out, nil
}

func readCached[T any](ctx context.Context, e *Engine, pref Preference, p Policy[T], out chan<- Response[T]) {
	defer close(out)

	for snap := range p.Cached(ctx) {
		if snap.Err != nil {
			if !emit(ctx, e, out, Response[T]{Err: snap.Err, Origin: OriginCache}) {
				return
			}
			continue
		}

		cached := snap.Value
		needsRefresh := p.Refresh != nil && (p.Empty(cached) || p.Stale(cached, e.now()))

		if pref == Fast {
			if !emit(ctx, e, out, Response[T]{Value: cached, Origin: OriginCache}) {
				return
			}
			if needsRefresh {
				background(e, p)
			}
			continue
		}

		if !needsRefresh {
			if !emit(ctx, e, out, Response[T]{Value: cached, Origin: OriginCache}) {
				return
			}
			continue
		}

		fetched, err := refresh(ctx, e, p, Secure)
		var resp Response[T]
		switch {
		case err == nil:
			resp = Response[T]{Value: fetched, Origin: OriginRemote}
		case ctx.Err() != nil:
			return
		case !p.Empty(cached):
			e.log.Debug().Err(err).Str("kind", p.Kind).Msg("refresh failed, serving stale cache")
			resp = Response[T]{Value: cached, Origin: OriginCache}
		default:
			resp = Response[T]{Err: fmt.Errorf("%w: %w", ErrCacheEmpty, err), Origin: OriginRemote}
		}
		if !emit(ctx, e, out, resp) {
			return
		}
	}
}

func readFresh[T any](ctx context.Context, e *Engine, p Policy[T], out chan<- Response[T]) {
	defer close(out)

	// drop any memoised result so this read reaches the remote source
	if err := e.svc.Delete(ctx, p.Key); err != nil {
		e.log.Debug().Err(err).Str("key", p.Key).Msg("could not drop memoised refresh")
	}

	fetched, err := refresh(ctx, e, p, Fresh)
	if err != nil {
		if ctx.Err() == nil {
			emit(ctx, e, out, Response[T]{Err: err, Origin: OriginRemote})
		}
		return
	}
	if !emit(ctx, e, out, Response[T]{Value: fetched, Origin: OriginRemote}) {
		return
	}

	// the subscription starts after the refresh wrote, so its first snapshot is
	// the value just emitted; later snapshots are newer commits
	first := true
	for snap := range p.Cached(ctx) {
		if first {
			first = false
			continue
		}
		if !emit(ctx, e, out, Response[T]{Value: snap.Value, Err: snap.Err, Origin: OriginCache}) {
			return
		}
	}
}

func refresh[T any](ctx context.Context, e *Engine, p Policy[T], mode Preference) (T, error) {
	v, err := cache.GetOrFetch(ctx, e.svc, p.Key, cache.FetchFn[T](p.Refresh))
	e.metrics.Refresh(mode.String(), err)
	return v, err
}

// background starts a detached refresh in the engine scope. Failures are
// logged and counted, never surfaced to the reader; a success reaches the
// reader through the store subscription.
func background[T any](e *Engine, p Policy[T]) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := refresh(e.bg, e, p, Fast); err != nil && e.bg.Err() == nil {
			e.log.Warn().Err(err).Str("kind", p.Kind).Str("key", p.Key).Msg("background refresh failed")
			e.metrics.BackgroundFailure(p.Kind)
		}
	}()
}

func emit[T any](ctx context.Context, e *Engine, out chan<- Response[T], resp Response[T]) bool {
	select {
	case out <- resp:
		e.metrics.Emit(resp.Origin.String())
		return true
	case <-ctx.Done():
		return false
	}
}
