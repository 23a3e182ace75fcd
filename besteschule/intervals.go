package besteschule

import (
	"context"

	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// IntervalRepository reads grading periods. Intervals form a tree through
// IncludedIntervalID; a batch is written parents first and an interval whose
// parent is neither cached nor in the batch is dropped.
type IntervalRepository struct {
	*entityRepo[store.Interval]
	client *remote.Client
	store  *store.Store
}

func NewIntervalRepository(d Deps) *IntervalRepository {
	r := &IntervalRepository{
		entityRepo: newEntityRepo(d, "intervals", d.Store.Intervals),
		client:     d.Client,
		store:      d.Store,
	}
	r.validate = validateInterval
	r.prefilter = r.orderParentsFirst
	r.fetchAll = func(ctx context.Context, token string) ([]store.Interval, error) {
		intervals, err := d.Client.Intervals(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(intervals, func(i remote.Interval) store.Interval { return intervalFromAPI(i, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Interval, error) {
		i, err := d.Client.Interval(ctx, token, id)
		if err != nil {
			return store.Interval{}, err
		}
		return intervalFromAPI(i, r.now()), nil
	}
	return r
}

// orderParentsFirst keeps intervals whose year is cached and whose parent is
// cached or accepted earlier in the same pass, sorted so parents come first.
func (r *IntervalRepository) orderParentsFirst(ctx context.Context, items []store.Interval) ([]store.Interval, []drop, error) {
	years, err := r.store.Years.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(i store.Interval) int { return i.YearID }))...)
	if err != nil {
		return nil, nil, err
	}

	var parentIDs []int
	for _, item := range items {
		if item.IncludedIntervalID != nil {
			parentIDs = append(parentIDs, *item.IncludedIntervalID)
		}
	}
	cached, err := r.store.Intervals.ExistingIDs(ctx, uniqueInts(parentIDs)...)
	if err != nil {
		return nil, nil, err
	}

	var dropped []drop
	pending := make([]store.Interval, 0, len(items))
	for _, item := range items {
		if !years[item.YearID] {
			dropped = append(dropped, drop{item.ID, "missing_year"})
			continue
		}
		pending = append(pending, item)
	}

	accepted := make(map[int]bool, len(pending))
	ordered := make([]store.Interval, 0, len(pending))
	for progress := true; progress && len(pending) > 0; {
		progress = false
		next := pending[:0]
		for _, item := range pending {
			parent := item.IncludedIntervalID
			if parent == nil || cached[*parent] || accepted[*parent] {
				ordered = append(ordered, item)
				accepted[item.ID] = true
				progress = true
				continue
			}
			next = append(next, item)
		}
		pending = next
	}

	for _, item := range pending {
		dropped = append(dropped, drop{item.ID, "missing_parent"})
	}
	return ordered, dropped, nil
}

// FromAPIForAccount fetches the intervals of the account's active year from
// its student bundle, linked to accountID.
func (r *IntervalRepository) FromAPIForAccount(ctx context.Context, token string, accountID int) ([]store.Interval, error) {
	student, err := r.client.Student(ctx, token, accountID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	return mapSlice(student.Intervals, func(i remote.Interval) store.Interval {
		return intervalFromAPI(i, now, accountID)
	}), nil
}

// ForAccount streams the intervals linked to accountID under pref.
func (r *IntervalRepository) ForAccount(ctx context.Context, accountID int, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[[]store.Interval], error) {
	var refresh freshness.RefreshFn[[]store.Interval]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) ([]store.Interval, error) {
			items, err := r.FromAPIForAccount(ctx, token, accountID)
			if err != nil {
				return nil, err
			}
			if _, err := r.AddToCache(ctx, items); err != nil {
				return nil, err
			}
			return r.table.List(ctx, store.IntervalsForAccount(accountID))
		}
	}
	key := r.keys.SerializeKey(r.kind, "account", accountID)
	return r.readList(ctx, pref, key, refresh, store.IntervalsForAccount(accountID))
}

// ForYear streams the cached intervals of yearID under pref. A refresh
// caches every interval the token can see, in any year.
func (r *IntervalRepository) ForYear(ctx context.Context, yearID int, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[[]store.Interval], error) {
	var refresh freshness.RefreshFn[[]store.Interval]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) ([]store.Interval, error) {
			items, err := r.FromAPI(ctx, token)
			if err != nil {
				return nil, err
			}
			if _, err := r.AddToCache(ctx, items); err != nil {
				return nil, err
			}
			return r.table.List(ctx, store.InYear(yearID))
		}
	}
	key := r.keys.SerializeKey(r.kind, "year", yearID)
	return r.readList(ctx, pref, key, refresh, store.InYear(yearID))
}
