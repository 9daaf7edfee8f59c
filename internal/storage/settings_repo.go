package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Settings namespaces. Each namespace holds one JSON document validated on
// read; a document failing validation falls back to the namespace default.
const (
	NamespaceDefaultAuthAccounts = "defaultAuthAccounts"
	NamespaceActiveTabsURLs      = "activeTabsUrls"
)

// SettingsRepository persists small namespaced key/value settings documents.
type SettingsRepository struct {
	store *Store
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(store *Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

// get loads a namespace document into out, returning fallback semantics to
// the typed accessors below: (found=false) means "use the default".
func (r *SettingsRepository) get(ctx context.Context, namespace string, out any) (bool, error) {
	var content []byte
	err := r.store.pool.QueryRow(ctx,
		`SELECT content FROM settings WHERE namespace = $1`, namespace).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get settings %q: %w", namespace, err)
	}

	if err := json.Unmarshal(content, out); err != nil {
		// Fall back to the default rather than propagating: these namespaces
		// all have a safe empty value.
		slog.Warn("settings content does not match the schema", "namespace", namespace, "error", err)
		return false, nil
	}

	return true, nil
}

// set stores a namespace document with an atomic per-key upsert.
func (r *SettingsRepository) set(ctx context.Context, namespace string, value any) error {
	content, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal settings %q: %w", namespace, err)
	}

	query := `
		INSERT INTO settings (namespace, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (namespace) DO UPDATE SET content = $2, updated_at = NOW()
	`

	if _, err := r.store.pool.Exec(ctx, query, namespace, content); err != nil {
		return fmt.Errorf("failed to set settings %q: %w", namespace, err)
	}

	return nil
}

// GetDefaultAuthAccounts returns the addresses pre-selected in the
// authorization prompt. Defaults to empty.
func (r *SettingsRepository) GetDefaultAuthAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	found, err := r.get(ctx, NamespaceDefaultAuthAccounts, &accounts)
	if err != nil {
		return nil, err
	}
	if !found {
		return []string{}, nil
	}
	return accounts, nil
}

// SetDefaultAuthAccounts stores the pre-selected authorization addresses.
func (r *SettingsRepository) SetDefaultAuthAccounts(ctx context.Context, accounts []string) error {
	return r.set(ctx, NamespaceDefaultAuthAccounts, accounts)
}

// GetActiveTabsURLs returns the URLs the browser shell last reported as active.
func (r *SettingsRepository) GetActiveTabsURLs(ctx context.Context) ([]string, error) {
	var urls []string
	found, err := r.get(ctx, NamespaceActiveTabsURLs, &urls)
	if err != nil {
		return nil, err
	}
	if !found {
		return []string{}, nil
	}
	return urls, nil
}

// SetActiveTabsURLs stores the currently active tab URLs.
func (r *SettingsRepository) SetActiveTabsURLs(ctx context.Context, urls []string) error {
	return r.set(ctx, NamespaceActiveTabsURLs, urls)
}
