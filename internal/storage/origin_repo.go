package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// OriginRepository persists the origin authorization table. Records are
// stored as JSONB and schema-validated on read; every write is a
// single-statement upsert so a crash can never leave a half-updated entry.
type OriginRepository struct {
	store *Store
}

// NewOriginRepository creates a new origin repository
func NewOriginRepository(store *Store) *OriginRepository {
	return &OriginRepository{store: store}
}

// validateOriginRecord rejects records that do not match the expected shape.
func validateOriginRecord(rec *types.OriginAuthorization) error {
	if rec.Origin == "" {
		return fmt.Errorf("missing origin")
	}
	switch rec.Mode {
	case types.AccessAllowAll, types.AccessAllowedSet:
		return nil
	default:
		return fmt.Errorf("unknown access mode %q", rec.Mode)
	}
}

// Get retrieves the authorization record for an origin. Returns
// ErrUnauthorized when no record exists.
func (r *OriginRepository) Get(ctx context.Context, origin string) (*types.OriginAuthorization, error) {
	query := `SELECT record FROM authorized_origins WHERE origin = $1`

	var recordJSON []byte
	err := r.store.pool.QueryRow(ctx, query, origin).Scan(&recordJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get origin record: %w", err)
	}

	var rec types.OriginAuthorization
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, apperrors.SchemaMismatch("authorized_origins", err)
	}
	if err := validateOriginRecord(&rec); err != nil {
		return nil, apperrors.SchemaMismatch("authorized_origins", err)
	}

	return &rec, nil
}

// Upsert creates or overwrites the record for rec.Origin.
func (r *OriginRepository) Upsert(ctx context.Context, rec *types.OriginAuthorization) error {
	if err := validateOriginRecord(rec); err != nil {
		return apperrors.SchemaMismatch("authorized_origins", err)
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal origin record: %w", err)
	}

	query := `
		INSERT INTO authorized_origins (origin, record, authorized_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (origin) DO UPDATE SET record = $2, authorized_at = $3, updated_at = NOW()
	`

	_, err = r.store.pool.Exec(ctx, query, rec.Origin, recordJSON, time.UnixMilli(rec.AuthorizedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert origin record: %w", err)
	}

	return nil
}

// Delete removes the record for an origin. Missing origins are a no-op.
func (r *OriginRepository) Delete(ctx context.Context, origin string) error {
	_, err := r.store.pool.Exec(ctx, `DELETE FROM authorized_origins WHERE origin = $1`, origin)
	if err != nil {
		return fmt.Errorf("failed to delete origin record: %w", err)
	}
	return nil
}

// List returns every authorization record keyed by origin. Records failing
// validation are skipped rather than poisoning the whole listing.
func (r *OriginRepository) List(ctx context.Context) (map[string]*types.OriginAuthorization, error) {
	rows, err := r.store.pool.Query(ctx, `SELECT record FROM authorized_origins ORDER BY origin`)
	if err != nil {
		return nil, fmt.Errorf("failed to list origin records: %w", err)
	}
	defer rows.Close()

	list := make(map[string]*types.OriginAuthorization)
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan origin record: %w", err)
		}

		var rec types.OriginAuthorization
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			continue
		}
		if err := validateOriginRecord(&rec); err != nil {
			continue
		}
		list[rec.Origin] = &rec
	}

	return list, rows.Err()
}

// RemoveAddress narrows every explicit-set record so it no longer references
// the address. AllowAll records are untouched; they never name addresses.
func (r *OriginRepository) RemoveAddress(ctx context.Context, address string) error {
	list, err := r.List(ctx)
	if err != nil {
		return err
	}

	for _, rec := range list {
		if rec.Mode != types.AccessAllowedSet || !rec.Allows(address) {
			continue
		}

		kept := make([]string, 0, len(rec.AuthorizedAccounts))
		for _, a := range rec.AuthorizedAccounts {
			if a != address {
				kept = append(kept, a)
			}
		}
		rec.AuthorizedAccounts = kept

		if err := r.Upsert(ctx, rec); err != nil {
			return err
		}
	}

	return nil
}

// TouchAuthorizedDate refreshes the authorization timestamp of an origin.
func (r *OriginRepository) TouchAuthorizedDate(ctx context.Context, origin string, at time.Time) error {
	query := `
		UPDATE authorized_origins
		SET record = jsonb_set(record, '{authorizedAt}', to_jsonb($2::bigint)),
		    authorized_at = $3,
		    updated_at = NOW()
		WHERE origin = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, origin, at.UnixMilli(), at)
	if err != nil {
		return fmt.Errorf("failed to touch authorized date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUnauthorized
	}
	return nil
}
