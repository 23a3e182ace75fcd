package store

import (
	"context"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-vplan-cache/internal/watch"
)

// Table is the cached rows of one entity kind.
type Table[E Entity[E]] struct {
	s     *Store
	topic string

	// hydrate fills non-column fields after a load.
	hydrate func(ctx context.Context, db bun.IDB, items []E) error
	// afterUpsert runs inside the upsert transaction.
	afterUpsert func(ctx context.Context, tx bun.Tx, items []E) error
	// keep are columns an upsert writes on insert only. Rows already cached
	// keep their stored value, whatever the incoming item carries.
	keep map[string]bool
}

func newTable[E Entity[E]](s *Store, topic string) *Table[E] {
	return &Table[E]{s: s, topic: topic}
}

// Topic is the hub topic published after every commit to this table.
func (t *Table[E]) Topic() string {
	return t.topic
}

// Upsert writes items keyed by id. A row's cached_at never moves backwards:
// an item older than the stored row keeps the stored timestamp. Columns in
// keep are left alone on rows that already exist.
func (t *Table[E]) Upsert(ctx context.Context, items []E) error {
	if len(items) == 0 {
		return nil
	}
	rows := append([]E(nil), items...)

	err := t.s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing []E
		if err := ByIDs(ids(rows)...)(tx.NewSelect().Model(&existing)).Scan(ctx); err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		stored := make(map[int]E, len(existing))
		for _, e := range existing {
			stored[e.EntityID()] = e
		}
		for i, row := range rows {
			if prev, ok := stored[row.EntityID()]; ok && prev.CacheTime().After(row.CacheTime()) {
				rows[i] = row.withCachedAt(prev.CacheTime())
			}
		}

		if _, err := t.conflictUpdate(tx.NewInsert().Model(&rows)).Exec(ctx); err != nil {
			return err
		}
		if t.afterUpsert != nil {
			return t.afterUpsert(ctx, tx, rows)
		}
		return nil
	})
	if err != nil {
		return t.s.dbError("upsert "+t.topic, err)
	}

	t.s.publish(t.topic)
	return nil
}

// conflictUpdate turns an insert into an upsert on id. Without keep columns
// bun updates every data column from EXCLUDED.
func (t *Table[E]) conflictUpdate(q *bun.InsertQuery) *bun.InsertQuery {
	q = q.On("CONFLICT (id) DO UPDATE")
	if len(t.keep) == 0 {
		return q
	}
	for _, f := range t.s.db.Table(reflect.TypeFor[E]()).DataFields {
		if !t.keep[f.Name] {
			q = q.Set("? = EXCLUDED.?", bun.Ident(f.Name), bun.Ident(f.Name))
		}
	}
	return q
}

// Get returns the row with id, or nil if it is not cached.
func (t *Table[E]) Get(ctx context.Context, id int) (*E, error) {
	items, err := t.List(ctx, ByIDs(id))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// List returns the rows matching every criteria, ordered by id.
func (t *Table[E]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]E, error) {
	items := []E{}
	q := t.s.db.NewSelect().Model(&items)
	for _, c := range criteria {
		q = c(q)
	}

	if err := byID(q).Scan(ctx); err != nil && !repository.IsRecordNotFound(err) {
		return nil, t.s.dbError("list "+t.topic, err)
	}
	if t.hydrate != nil && len(items) > 0 {
		if err := t.hydrate(ctx, t.s.db, items); err != nil {
			return nil, t.s.dbError("hydrate "+t.topic, err)
		}
	}
	return items, nil
}

// ExistingIDs reports which of ids are cached.
func (t *Table[E]) ExistingIDs(ctx context.Context, ids ...int) (map[int]bool, error) {
	found := make(map[int]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var present []int
	q := t.s.db.NewSelect().Model((*E)(nil)).Column("id")
	if err := ByIDs(ids...)(q).Scan(ctx, &present); err != nil && !repository.IsRecordNotFound(err) {
		return nil, t.s.dbError("existing "+t.topic+" ids", err)
	}
	for _, id := range present {
		found[id] = true
	}
	return found, nil
}

// Count returns the number of rows matching criteria.
func (t *Table[E]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	q := t.s.db.NewSelect().Model((*E)(nil))
	for _, c := range criteria {
		q = c(q)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, t.s.dbError("count "+t.topic, err)
	}
	return n, nil
}

// Watch runs List now and after every commit to the table.
func (t *Table[E]) Watch(ctx context.Context, criteria ...repository.SelectCriteria) <-chan watch.Result[[]E] {
	return watch.Query(ctx, t.s.hub, []string{t.topic}, func(ctx context.Context) ([]E, error) {
		items, err := t.List(ctx, criteria...)
		if err != nil && ctx.Err() == nil {
			t.s.log.Error().Err(err).Str("table", t.topic).Msg("continuous query failed")
		}
		return items, err
	})
}

// WatchByID runs Get now and after every commit to the table.
func (t *Table[E]) WatchByID(ctx context.Context, id int) <-chan watch.Result[*E] {
	return watch.Query(ctx, t.s.hub, []string{t.topic}, func(ctx context.Context) (*E, error) {
		item, err := t.Get(ctx, id)
		if err != nil && ctx.Err() == nil {
			t.s.log.Error().Err(err).Str("table", t.topic).Int("id", id).Msg("continuous query failed")
		}
		return item, err
	})
}

func ids[E Entity[E]](items []E) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.EntityID()
	}
	return out
}
