// Package watch turns one-shot store queries into continuous queries.
//
// Writers publish the topics (table names) they committed to; readers subscribe
// to topics and re-run their query after every notification.
package watch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Hub fans out change notifications per topic.
type Hub struct {
	topics *xsync.MapOf[string, *topic]
	nextID atomic.Uint64
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]chan struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: xsync.NewMapOf[string, *topic]()}
}

// Subscribe registers interest in topics. The returned channel has a buffer of
// one and coalesces bursts: a reader that is busy observes at least one signal
// after the last write, never zero.
func (h *Hub) Subscribe(topics ...string) (<-chan struct{}, func()) {
	id := h.nextID.Add(1)
	ch := make(chan struct{}, 1)

	for _, name := range topics {
		t, _ := h.topics.LoadOrCompute(name, func() *topic {
			return &topic{subs: make(map[uint64]chan struct{})}
		})
		t.mu.Lock()
		t.subs[id] = ch
		t.mu.Unlock()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			for _, name := range topics {
				if t, ok := h.topics.Load(name); ok {
					t.mu.Lock()
					delete(t.subs, id)
					t.mu.Unlock()
				}
			}
		})
	}

	return ch, cancel
}

// Publish notifies every subscriber of any of topics.
func (h *Hub) Publish(topics ...string) {
	for _, name := range topics {
		t, ok := h.topics.Load(name)
		if !ok {
			continue
		}
		t.mu.Lock()
		for _, ch := range t.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		t.mu.Unlock()
	}
}

// Subscribers reports the number of live subscriptions on topic.
func (h *Hub) Subscribers(name string) int {
	t, ok := h.topics.Load(name)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Result is one emission of a continuous query.
type Result[T any] struct {
	Value T
	Err   error
}

// LoadFn runs the underlying one-shot query.
type LoadFn[T any] func(ctx context.Context) (T, error)

// Query emits the result of load now and again after every notification on
// topics, until ctx is done. The subscription is taken before the first load
// so no commit between the two is missed.
func Query[T any](ctx context.Context, hub *Hub, topics []string, load LoadFn[T]) <-chan Result[T] {
	out := make(chan Result[T])
	signals, cancel := hub.Subscribe(topics...)

	go func() {
		defer close(out)
		defer cancel()

		for {
			value, err := load(ctx)
			if ctx.Err() != nil {
				return
			}

			select {
			case out <- Result[T]{Value: value, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-signals:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
