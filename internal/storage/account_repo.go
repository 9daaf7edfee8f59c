package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// AccountRow is one persisted keyring account: the wrapped, password-encrypted
// keystore blob plus its mutable metadata.
type AccountRow struct {
	Address  string
	Keystore []byte // ciphertext produced by the wrap provider
	Meta     types.AccountMeta
	Type     types.KeypairType
}

// AccountRepository persists keyring accounts.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Save creates or overwrites an account row.
func (r *AccountRepository) Save(ctx context.Context, row *AccountRow) error {
	metaJSON, err := json.Marshal(row.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal account meta: %w", err)
	}

	query := `
		INSERT INTO accounts (address, keystore, meta, pair_type, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET keystore = $2, meta = $3, pair_type = $4
	`

	if _, err := r.store.pool.Exec(ctx, query, row.Address, row.Keystore, metaJSON, string(row.Type)); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// UpdateMeta overwrites only the metadata of an existing account.
func (r *AccountRepository) UpdateMeta(ctx context.Context, address string, meta types.AccountMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal account meta: %w", err)
	}

	tag, err := r.store.pool.Exec(ctx, `UPDATE accounts SET meta = $2 WHERE address = $1`, address, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to update account meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPairNotFound
	}
	return nil
}

// Get retrieves one account row by address.
func (r *AccountRepository) Get(ctx context.Context, address string) (*AccountRow, error) {
	query := `SELECT address, keystore, meta, pair_type FROM accounts WHERE address = $1`

	row, err := scanAccountRow(r.store.pool.QueryRow(ctx, query, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrPairNotFound
	}
	return row, err
}

// Delete removes an account row.
func (r *AccountRepository) Delete(ctx context.Context, address string) error {
	tag, err := r.store.pool.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPairNotFound
	}
	return nil
}

// List returns every account row in creation order.
func (r *AccountRepository) List(ctx context.Context) ([]*AccountRow, error) {
	rows, err := r.store.pool.Query(ctx,
		`SELECT address, keystore, meta, pair_type FROM accounts ORDER BY created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var list []*AccountRow
	for rows.Next() {
		row, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, row)
	}

	return list, rows.Err()
}

func scanAccountRow(row pgx.Row) (*AccountRow, error) {
	var (
		out      AccountRow
		metaJSON []byte
		pairType string
	)
	if err := row.Scan(&out.Address, &out.Keystore, &metaJSON, &pairType); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metaJSON, &out.Meta); err != nil {
		return nil, apperrors.SchemaMismatch("accounts", err)
	}
	out.Type = types.KeypairType(pairType)

	return &out, nil
}
