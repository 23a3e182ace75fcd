package store

import (
	"context"
	"sort"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

func (s *Store) saveIntervalAccounts(ctx context.Context, tx bun.Tx, items []Interval) error {
	var links []IntervalAccount
	for _, item := range items {
		for _, accountID := range item.AccountIDs {
			links = append(links, IntervalAccount{IntervalID: item.ID, AccountID: accountID})
		}
	}
	if len(links) == 0 {
		return nil
	}
	_, err := tx.NewInsert().
		Model(&links).
		On("CONFLICT (interval_id, account_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) loadIntervalAccounts(ctx context.Context, db bun.IDB, items []Interval) error {
	var links []IntervalAccount
	q := repository.SelectColumnIn("interval_id", ids(items))(db.NewSelect().Model(&links))
	if err := q.Scan(ctx); err != nil && !repository.IsRecordNotFound(err) {
		return err
	}

	byInterval := make(map[int][]int, len(items))
	for _, link := range links {
		byInterval[link.IntervalID] = append(byInterval[link.IntervalID], link.AccountID)
	}
	for i := range items {
		accounts := byInterval[items[i].ID]
		sort.Ints(accounts)
		items[i].AccountIDs = accounts
	}
	return nil
}
