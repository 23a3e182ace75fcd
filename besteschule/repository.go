// Package besteschule composes the store, the remote client and the freshness
// engine into per-entity read APIs for the beste.schule grades domain.
package besteschule

import (
	"context"
	"errors"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/cache"
	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/internal/share"
	"github.com/goliatone/go-vplan-cache/internal/telemetry"
	"github.com/goliatone/go-vplan-cache/internal/watch"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// Deps are the collaborators every repository is built from.
type Deps struct {
	Store   *store.Store
	Client  *remote.Client
	Engine  *freshness.Engine
	Keys    cache.KeySerializer
	Metrics *telemetry.Metrics
	// Log defaults to the process logger.
	Log *zerolog.Logger
	// IdleTimeout is how long a shared per-id subscription outlives its last reader.
	IdleTimeout time.Duration
}

func (d Deps) logger(component string) zerolog.Logger {
	if d.Log == nil {
		return logging.Component(component)
	}
	return d.Log.With().Str("component", component).Logger()
}

func (d Deps) keys() cache.KeySerializer {
	if d.Keys == nil {
		return cache.NewDefaultKeySerializer()
	}
	return d.Keys
}

// drop is an item left out of a cache write, with the reason why.
type drop struct {
	id     int
	reason string
}

// entityRepo is the machinery shared by every entity repository.
type entityRepo[E store.Entity[E]] struct {
	kind    string
	table   *store.Table[E]
	engine  *freshness.Engine
	keys    cache.KeySerializer
	shared  *share.Registry[int, watch.Result[*E]]
	log     zerolog.Logger
	metrics *telemetry.Metrics

	fetchAll func(ctx context.Context, token string) ([]E, error)
	fetchOne func(ctx context.Context, token string, id int) (E, error)
	validate func(E) error
	// prefilter drops items whose parents are not cached.
	prefilter func(ctx context.Context, items []E) ([]E, []drop, error)
	// merge adjusts items against their cached versions before the write.
	merge func(ctx context.Context, items []E) ([]E, error)
}

func newEntityRepo[E store.Entity[E]](d Deps, kind string, table *store.Table[E]) *entityRepo[E] {
	return &entityRepo[E]{
		kind:    kind,
		table:   table,
		engine:  d.Engine,
		keys:    d.keys(),
		shared:  share.New[int, watch.Result[*E]](d.IdleTimeout),
		log:     d.logger(kind),
		metrics: d.Metrics,
	}
}

func (r *entityRepo[E]) now() time.Time {
	return r.engine.Now()
}

// FromAPI fetches every item visible to token. Nothing is written.
func (r *entityRepo[E]) FromAPI(ctx context.Context, token string) ([]E, error) {
	return r.fetchAll(ctx, token)
}

// ItemFromAPI fetches one item. Nothing is written.
func (r *entityRepo[E]) ItemFromAPI(ctx context.Context, token string, id int) (E, error) {
	return r.fetchOne(ctx, token, id)
}

// AddToCache upserts items and returns the ones written. Structurally invalid
// items and items whose parents are not cached are dropped, never retried.
func (r *entityRepo[E]) AddToCache(ctx context.Context, items []E) ([]E, error) {
	var dropped []drop

	valid := make([]E, 0, len(items))
	for _, item := range items {
		if r.validate != nil {
			if err := r.validate(item); err != nil {
				r.log.Info().Err(err).Str("kind", r.kind).Int("id", item.EntityID()).Msg("dropping invalid item")
				dropped = append(dropped, drop{id: item.EntityID(), reason: "invalid"})
				continue
			}
		}
		valid = append(valid, item)
	}

	kept := valid
	if r.prefilter != nil && len(valid) > 0 {
		var missing []drop
		var err error
		kept, missing, err = r.prefilter(ctx, valid)
		if err != nil {
			return nil, err
		}
		for _, d := range missing {
			r.log.Info().Str("kind", r.kind).Int("id", d.id).Str("reason", d.reason).Msg("dropping item with uncached parent")
		}
		dropped = append(dropped, missing...)
	}
	r.countDrops(dropped)

	if r.merge != nil && len(kept) > 0 {
		merged, err := r.merge(ctx, kept)
		if err != nil {
			return nil, err
		}
		kept = merged
	}

	if err := r.table.Upsert(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (r *entityRepo[E]) countDrops(dropped []drop) {
	byReason := map[string]int{}
	for _, d := range dropped {
		byReason[d.reason]++
	}
	for reason, n := range byReason {
		r.metrics.Drop(r.kind, reason, n)
	}
}

// FromCache streams the cached item with id, nil while absent. Readers of the
// same id share one store subscription.
func (r *entityRepo[E]) FromCache(ctx context.Context, id int) <-chan watch.Result[*E] {
	return r.shared.Subscribe(ctx, id, func(ctx context.Context) <-chan watch.Result[*E] {
		return r.table.WatchByID(ctx, id)
	})
}

// AllFromCache streams the cached items matching criteria.
func (r *entityRepo[E]) AllFromCache(ctx context.Context, criteria ...repository.SelectCriteria) <-chan watch.Result[[]E] {
	return r.table.Watch(ctx, criteria...)
}

// Get reads one item under pref. A nil cred means no refresh is possible.
func (r *entityRepo[E]) Get(ctx context.Context, id int, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[*E], error) {
	var refresh freshness.RefreshFn[*E]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) (*E, error) {
			return r.refreshOne(ctx, token, id)
		}
	}

	policy := freshness.ItemPolicy[E](r.kind, r.keys.SerializeKey(r.kind, id), func(ctx context.Context) <-chan watch.Result[*E] {
		return r.FromCache(ctx, id)
	}, refresh)
	return freshness.Read(ctx, r.engine, pref, policy)
}

// GetAll reads every cached item under pref.
func (r *entityRepo[E]) GetAll(ctx context.Context, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[[]E], error) {
	var refresh freshness.RefreshFn[[]E]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) ([]E, error) {
			items, err := r.fetchAll(ctx, token)
			if err != nil {
				return nil, err
			}
			return r.AddToCache(ctx, items)
		}
	}
	return r.readList(ctx, pref, r.keys.SerializeKey(r.kind, "all"), refresh)
}

func (r *entityRepo[E]) readList(ctx context.Context, pref freshness.Preference, key string, refresh freshness.RefreshFn[[]E], criteria ...repository.SelectCriteria) (<-chan freshness.Response[[]E], error) {
	policy := freshness.ListPolicy[E](r.kind, key, func(ctx context.Context) <-chan watch.Result[[]E] {
		return r.AllFromCache(ctx, criteria...)
	}, refresh)
	return freshness.Read(ctx, r.engine, pref, policy)
}

// refreshOne fetches and caches one item. A 404 means the item is gone and
// yields nil rather than an error.
func (r *entityRepo[E]) refreshOne(ctx context.Context, token string, id int) (*E, error) {
	item, err := r.fetchOne(ctx, token, id)
	if remote.IsNotFound(err) || errors.Is(err, errAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	kept, err := r.AddToCache(ctx, []E{item})
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return &kept[0], nil
}

// Close disposes the shared per-id subscriptions.
func (r *entityRepo[E]) Close() {
	r.shared.Close()
}

func mapSlice[S, E any](in []S, fn func(S) E) []E {
	out := make([]E, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
