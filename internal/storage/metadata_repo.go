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

// MetadataRepository persists chain metadata definitions keyed by genesis hash.
type MetadataRepository struct {
	store *Store
}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository(store *Store) *MetadataRepository {
	return &MetadataRepository{store: store}
}

// Save creates or overwrites the definition for def.GenesisHash.
func (r *MetadataRepository) Save(ctx context.Context, def *types.MetadataDef) error {
	if def.GenesisHash == "" {
		return apperrors.BadRequest("metadata definition is missing a genesis hash")
	}

	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata def: %w", err)
	}

	query := `
		INSERT INTO chain_metadata (genesis_hash, def, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (genesis_hash) DO UPDATE SET def = $2, saved_at = NOW()
	`

	if _, err := r.store.pool.Exec(ctx, query, def.GenesisHash, defJSON); err != nil {
		return fmt.Errorf("failed to save metadata def: %w", err)
	}

	return nil
}

// Get retrieves one definition by genesis hash.
func (r *MetadataRepository) Get(ctx context.Context, genesisHash string) (*types.MetadataDef, error) {
	var defJSON []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT def FROM chain_metadata WHERE genesis_hash = $1`, genesisHash).Scan(&defJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata def: %w", err)
	}

	var def types.MetadataDef
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, apperrors.SchemaMismatch("chain_metadata", err)
	}

	return &def, nil
}

// List returns every known definition.
func (r *MetadataRepository) List(ctx context.Context) ([]*types.MetadataDef, error) {
	rows, err := r.store.pool.Query(ctx, `SELECT def FROM chain_metadata ORDER BY genesis_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata defs: %w", err)
	}
	defer rows.Close()

	var list []*types.MetadataDef
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("failed to scan metadata def: %w", err)
		}

		var def types.MetadataDef
		if err := json.Unmarshal(defJSON, &def); err != nil {
			continue
		}
		list = append(list, &def)
	}

	return list, rows.Err()
}
