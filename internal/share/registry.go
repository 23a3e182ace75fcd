// Package share keeps one upstream subscription per key and fans it out to any
// number of subscribers, replaying the latest value to late joiners.
package share

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultIdleTimeout is how long an upstream survives with zero subscribers.
const DefaultIdleTimeout = 5 * time.Second

// SourceFn starts an upstream stream. It must close the channel when ctx ends.
type SourceFn[T any] func(ctx context.Context) <-chan T

// Registry is a per-key set of shared, replay-1 subscriptions.
// Upstreams run in the registry's context, not in any subscriber's.
type Registry[K comparable, T any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	idle    time.Duration
	entries *xsync.MapOf[K, *entry[T]]
}

// New creates a Registry whose upstreams are disposed idle after an idle period.
func New[K comparable, T any](idle time.Duration) *Registry[K, T] {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry[K, T]{
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
		entries: xsync.NewMapOf[K, *entry[T]](),
	}
}

type entry[T any] struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	last    T
	hasLast bool
	done    bool
	subs    map[*subscriber[T]]struct{}
	timer   *time.Timer
}

type subscriber[T any] struct {
	ch chan T
	e  *entry[T]
}

// Subscribe joins the shared stream for key, starting it from source if needed.
// The returned channel always holds the most recent value; intermediate values
// may be skipped for slow readers. It closes when ctx ends or the upstream ends.
func (r *Registry[K, T]) Subscribe(ctx context.Context, key K, source SourceFn[T]) <-chan T {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	for {
		e, _ := r.entries.LoadOrCompute(key, func() *entry[T] {
			return &entry[T]{subs: make(map[*subscriber[T]]struct{})}
		})

		e.mu.Lock()
		if e.done {
			// lost a race with disposal; the entry is being removed
			e.mu.Unlock()
			r.forget(key, e)
			continue
		}

		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		sub.e = e
		e.subs[sub] = struct{}{}
		if e.hasLast {
			sub.ch <- e.last
		}
		if e.cancel == nil {
			upCtx, cancel := context.WithCancel(r.ctx)
			e.cancel = cancel
			go r.pump(key, e, source(upCtx))
		}
		e.mu.Unlock()
		break
	}

	out := make(chan T)
	go r.relay(ctx, sub, out)
	return out
}

func (r *Registry[K, T]) pump(key K, e *entry[T], upstream <-chan T) {
	for v := range upstream {
		e.mu.Lock()
		e.last = v
		e.hasLast = true
		for s := range e.subs {
			// replace any unread value with the newest one
			select {
			case <-s.ch:
			default:
			}
			s.ch <- v
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.done = true
	for s := range e.subs {
		close(s.ch)
	}
	e.subs = nil
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	r.forget(key, e)
}

// forget removes key only while it still maps to e.
func (r *Registry[K, T]) forget(key K, e *entry[T]) {
	r.entries.Compute(key, func(old *entry[T], ok bool) (*entry[T], bool) {
		if !ok {
			return old, true
		}
		return old, old == e
	})
}

func (r *Registry[K, T]) relay(ctx context.Context, sub *subscriber[T], out chan<- T) {
	defer close(out)
	defer r.leave(sub)

	for {
		select {
		case v, ok := <-sub.ch:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry[K, T]) leave(sub *subscriber[T]) {
	e := sub.e
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		return
	}

	e.timer = time.AfterFunc(r.idle, func() {
		e.mu.Lock()
		if len(e.subs) > 0 || e.done {
			e.mu.Unlock()
			return
		}
		// new subscribers now skip this entry and start a fresh upstream
		e.done = true
		cancel := e.cancel
		e.mu.Unlock()
		cancel()
	})
}

// Len reports the number of live shared upstreams.
func (r *Registry[K, T]) Len() int {
	return r.entries.Size()
}

// Close disposes every upstream immediately.
func (r *Registry[K, T]) Close() {
	r.cancel()
}
