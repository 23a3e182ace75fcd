package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-vplan-cache/internal/watch"
)

const credentialsTopic = "credentials"

// ErrNoCredential is returned when an account has no stored credential.
var ErrNoCredential = errors.New("store: no credential for account")

// SaveCredential stores token for accountID. The validity resets to Unknown
// until the next access check.
func (s *Store) SaveCredential(ctx context.Context, accountID int, token string, now time.Time) error {
	cred := &Credential{
		AccountID: accountID,
		Token:     token,
		Valid:     Unknown,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(cred).
		On("CONFLICT (account_id) DO UPDATE").
		Exec(ctx)
	if err != nil {
		return s.dbError("save credential", err)
	}
	s.publish(credentialsTopic)
	return nil
}

// Credential returns the stored credential for accountID, or nil.
func (s *Store) Credential(ctx context.Context, accountID int) (*Credential, error) {
	cred := new(Credential)
	err := s.db.NewSelect().
		Model(cred).
		Where("account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if repository.IsRecordNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, s.dbError("load credential", err)
	}
	return cred, nil
}

// SetCredentialValidity records the outcome of an access check.
func (s *Store) SetCredentialValidity(ctx context.Context, accountID int, valid Tristate, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Credential)(nil)).
		Set("valid = ?", int(valid)).
		Set("checked_at = ?", at).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return s.dbError("update credential validity", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w %d", ErrNoCredential, accountID)
	}
	s.publish(credentialsTopic)
	return nil
}

// InvalidAccountIDs lists accounts whose credential was rejected.
func (s *Store) InvalidAccountIDs(ctx context.Context) ([]int, error) {
	ids := []int{}
	err := s.db.NewSelect().
		Model((*Credential)(nil)).
		Column("account_id").
		Where("valid = ?", int(False)).
		Order("account_id ASC").
		Scan(ctx, &ids)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, s.dbError("list invalid accounts", err)
	}
	return ids, nil
}

// WatchInvalidAccounts re-emits InvalidAccountIDs after every credential change.
func (s *Store) WatchInvalidAccounts(ctx context.Context) <-chan watch.Result[[]int] {
	return watch.Query(ctx, s.hub, []string{credentialsTopic}, s.InvalidAccountIDs)
}
