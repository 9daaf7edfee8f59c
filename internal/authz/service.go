// Package authz maintains the origin authorization table: which web origins
// may see which accounts. The table lives in Postgres; reads go through a
// short-lived in-process cache since every page message checks it.
package authz

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

const (
	cacheSize = 256
	cacheTTL  = time.Minute
)

// OriginStore is the persistence surface the service needs. Satisfied by
// storage.OriginRepository.
type OriginStore interface {
	Get(ctx context.Context, origin string) (*types.OriginAuthorization, error)
	Upsert(ctx context.Context, rec *types.OriginAuthorization) error
	Delete(ctx context.Context, origin string) error
	List(ctx context.Context) (map[string]*types.OriginAuthorization, error)
	RemoveAddress(ctx context.Context, address string) error
	TouchAuthorizedDate(ctx context.Context, origin string, at time.Time) error
}

// Service answers authorization queries and applies grant/revoke decisions.
type Service struct {
	repo  OriginStore
	cache *expirable.LRU[string, *types.OriginAuthorization]
}

// New creates the authorization service.
func New(repo OriginStore) *Service {
	return &Service{
		repo:  repo,
		cache: expirable.NewLRU[string, *types.OriginAuthorization](cacheSize, nil, cacheTTL),
	}
}

// Get returns the record for an origin, or ErrUnauthorized when none exists.
func (s *Service) Get(ctx context.Context, origin string) (*types.OriginAuthorization, error) {
	if rec, ok := s.cache.Get(origin); ok {
		return rec, nil
	}

	rec, err := s.repo.Get(ctx, origin)
	if err != nil {
		return nil, err
	}

	s.cache.Add(origin, rec)
	return rec, nil
}

// EnsureAuthorized gates page messages: it returns the origin's record when a
// grant exists and a descriptive ErrUnauthorized when it does not. The absence
// of a record and an explicitly revoked record are indistinguishable.
func (s *Service) EnsureAuthorized(ctx context.Context, origin string) (*types.OriginAuthorization, error) {
	rec, err := s.Get(ctx, origin)
	if apperrors.CodeOf(err) == apperrors.ErrCodeUnauthorized {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeUnauthorized,
			"The source "+origin+" has not been enabled yet", origin)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Grant records an approved authorization request. An empty account list
// still produces a valid record; the page simply sees no accounts until the
// grant is updated.
func (s *Service) Grant(ctx context.Context, origin, url string, accounts []string) error {
	rec := &types.OriginAuthorization{
		Origin:             origin,
		URL:                url,
		Mode:               types.AccessAllowedSet,
		AuthorizedAccounts: accounts,
		AuthorizedAt:       time.Now().UnixMilli(),
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return err
	}

	s.cache.Add(origin, rec)
	return nil
}

// UpdateAccounts replaces the account set of an existing grant.
func (s *Service) UpdateAccounts(ctx context.Context, origin string, accounts []string) error {
	rec, err := s.Get(ctx, origin)
	if err != nil {
		return err
	}

	updated := *rec
	updated.Mode = types.AccessAllowedSet
	updated.AuthorizedAccounts = accounts
	updated.AuthorizedAt = time.Now().UnixMilli()

	if err := s.repo.Upsert(ctx, &updated); err != nil {
		return err
	}

	s.cache.Add(origin, &updated)
	return nil
}

// Revoke removes an origin's grant entirely.
func (s *Service) Revoke(ctx context.Context, origin string) error {
	if err := s.repo.Delete(ctx, origin); err != nil {
		return err
	}

	s.cache.Remove(origin)
	return nil
}

// ForgetAddress narrows every explicit-set grant so it no longer references
// the address. Called when an account is removed from the keyring.
func (s *Service) ForgetAddress(ctx context.Context, address string) error {
	if err := s.repo.RemoveAddress(ctx, address); err != nil {
		return err
	}

	s.cache.Purge()
	return nil
}

// List returns every grant keyed by origin. Listing bypasses the cache; the
// trusted UI wants the authoritative table.
func (s *Service) List(ctx context.Context) (map[string]*types.OriginAuthorization, error) {
	return s.repo.List(ctx)
}

// TouchAuthorizedDate refreshes the grant timestamp of an origin, recording
// that the page is still actively using its authorization.
func (s *Service) TouchAuthorizedDate(ctx context.Context, origin string) error {
	if err := s.repo.TouchAuthorizedDate(ctx, origin, time.Now()); err != nil {
		return err
	}

	s.cache.Remove(origin)
	return nil
}

// FilterAccounts projects the account list down to what rec permits the page
// to see. Hidden accounts never appear regardless of mode.
func FilterAccounts(rec *types.OriginAuthorization, accounts []types.AccountInfo) []types.InjectedAccount {
	visible := make([]types.InjectedAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.IsHidden {
			continue
		}
		if !rec.Allows(acc.Address) {
			continue
		}
		visible = append(visible, types.InjectedAccount{
			Address:     acc.Address,
			GenesisHash: acc.GenesisHash,
			Name:        acc.Name,
			Type:        acc.Type,
		})
	}
	return visible
}
