package besteschule

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/internal/watch"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// ErrAccountNotLinked is returned when no credential is stored for an account.
var ErrAccountNotLinked = errors.New("besteschule: account not linked")

// cachedKinds are the repository kinds whose refreshes are memoised.
var cachedKinds = []string{"years", "intervals", "subjects", "teachers", "collections", "grades", "final_grades"}

// AccountRepository owns the stored credentials of external accounts.
// Validity is informational: an invalid token is still used if asked to.
type AccountRepository struct {
	store  *store.Store
	client *remote.Client
	deps   Deps
	log    zerolog.Logger
}

func NewAccountRepository(d Deps) *AccountRepository {
	return &AccountRepository{
		store:  d.Store,
		client: d.Client,
		deps:   d,
		log:    d.logger("accounts"),
	}
}

// Link stores token for accountID. Validity is unknown until CheckAccess runs.
func (r *AccountRepository) Link(ctx context.Context, accountID int, token string) error {
	if err := r.store.SaveCredential(ctx, accountID, token, r.deps.Engine.Now()); err != nil {
		return err
	}
	// refreshes memoised under the previous token must not be served again
	if err := r.deps.Engine.Invalidate(ctx, cachedKinds...); err != nil {
		r.log.Warn().Err(err).Int("account", accountID).Msg("could not drop memoised refreshes")
	}
	r.log.Info().Int("account", accountID).Msg("account linked")
	return nil
}

// Credential returns the stored credential of accountID or ErrAccountNotLinked.
func (r *AccountRepository) Credential(ctx context.Context, accountID int) (*store.Credential, error) {
	cred, err := r.store.Credential(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotLinked, accountID)
	}
	return cred, nil
}

// CheckAccess asks the remote whether the stored token is accepted and
// records the answer. A 401 or 404 marks the credential invalid, a success
// marks it valid. Any other failure leaves the validity untouched and is
// returned.
func (r *AccountRepository) CheckAccess(ctx context.Context, accountID int) (store.Tristate, error) {
	cred, err := r.Credential(ctx, accountID)
	if err != nil {
		return store.Unknown, err
	}

	valid := store.True
	if _, err := r.client.User(ctx, cred.Token); err != nil {
		if !remote.IsUnauthorized(err) && !remote.IsNotFound(err) {
			r.log.Warn().Err(err).Int("account", accountID).Msg("access check inconclusive")
			return store.Unknown, err
		}
		valid = store.False
	}

	if err := r.store.SetCredentialValidity(ctx, accountID, valid, r.deps.Engine.Now()); err != nil {
		return store.Unknown, err
	}
	r.log.Info().Int("account", accountID).Stringer("valid", valid).Msg("access checked")
	return valid, nil
}

// InvalidAccountIDs lists accounts whose token was rejected by CheckAccess.
func (r *AccountRepository) InvalidAccountIDs(ctx context.Context) ([]int, error) {
	return r.store.InvalidAccountIDs(ctx)
}

// WatchInvalidAccounts streams InvalidAccountIDs after every credential change.
func (r *AccountRepository) WatchInvalidAccounts(ctx context.Context) <-chan watch.Result[[]int] {
	return r.store.WatchInvalidAccounts(ctx)
}
