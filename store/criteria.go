package store

import (
	"strconv"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// none matches no row. Empty id sets use it instead of rendering IN (NULL).
func none(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Where("1 = 0")
}

// ByIDs restricts a query to the given ids.
func ByIDs(ids ...int) repository.SelectCriteria {
	if len(ids) == 0 {
		return none
	}
	return repository.SelectColumnIn("id", ids)
}

// ForAccount restricts grades to one account.
func ForAccount(accountID int) repository.SelectCriteria {
	return repository.SelectBy("account_id", "=", strconv.Itoa(accountID))
}

// IntervalsForAccount restricts intervals to those linked to accountID.
func IntervalsForAccount(accountID int) repository.SelectCriteria {
	return repository.SelectColumnInSubq("id", "SELECT interval_id FROM interval_accounts WHERE account_id = ?", accountID)
}

// InYear restricts intervals to one year.
func InYear(yearID int) repository.SelectCriteria {
	return repository.SelectBy("year_id", "=", strconv.Itoa(yearID))
}

// BySubject restricts collections or final grades to one subject.
func BySubject(subjectID int) repository.SelectCriteria {
	return repository.SelectBy("subject_id", "=", strconv.Itoa(subjectID))
}

// InCollections restricts grades to the given collections.
func InCollections(ids ...int) repository.SelectCriteria {
	if len(ids) == 0 {
		return none
	}
	return repository.SelectColumnIn("collection_id", ids)
}

// byID is the default order of every list.
var byID = repository.SelectOrderAsc("id")
