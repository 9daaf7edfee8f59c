// Package keyring manages the wallet's accounts: secp256k1 pairs encrypted
// under per-account passwords, persisted through the storage layer behind an
// at-rest wrap provider, with an observable account list.
package keyring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/walletgate/walletgate/internal/keyring/wrap"
	"github.com/walletgate/walletgate/internal/session"
	"github.com/walletgate/walletgate/internal/storage"
	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// keystoreBlob is the persisted, pre-wrap form of one pair's secret material.
type keystoreBlob struct {
	Encoded string `json:"encoded"`
	Salt    string `json:"salt"`
	Nonce   string `json:"nonce"`
}

// AccountStore is the persistence surface the keyring needs. Satisfied by
// storage.AccountRepository.
type AccountStore interface {
	Save(ctx context.Context, row *storage.AccountRow) error
	UpdateMeta(ctx context.Context, address string, meta types.AccountMeta) error
	Delete(ctx context.Context, address string) error
	List(ctx context.Context) ([]*storage.AccountRow, error)
}

// Keyring holds every account pair in memory and keeps the database in sync.
type Keyring struct {
	mu    sync.Mutex
	pairs map[string]*Pair

	repo    AccountStore
	wrapper wrap.Provider
	feed    *session.Feed[[]types.AccountInfo]
}

// New creates an empty keyring. Call Load before serving traffic.
func New(repo AccountStore, wrapper wrap.Provider) *Keyring {
	return &Keyring{
		pairs:   make(map[string]*Pair),
		repo:    repo,
		wrapper: wrapper,
		feed:    session.NewFeed[[]types.AccountInfo](),
	}
}

// Load hydrates the keyring from the database. All pairs start locked.
func (k *Keyring) Load(ctx context.Context) error {
	rows, err := k.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	k.mu.Lock()
	for _, row := range rows {
		pair := &Pair{
			Address: row.Address,
			Type:    row.Type,
			Meta:    row.Meta,
		}

		if len(row.Keystore) > 0 {
			unwrapped, err := k.wrapper.Unwrap(ctx, row.Keystore)
			if err != nil {
				k.mu.Unlock()
				return fmt.Errorf("failed to unwrap keystore for %s: %w", row.Address, err)
			}

			var blob keystoreBlob
			if err := json.Unmarshal(unwrapped, &blob); err != nil {
				k.mu.Unlock()
				return apperrors.SchemaMismatch("accounts", err)
			}
			pair.Encoded = blob.Encoded
			pair.Salt = blob.Salt
			pair.Nonce = blob.Nonce
		}

		k.pairs[pair.Address] = pair
	}
	k.mu.Unlock()

	k.notify()
	return nil
}

// GetPair returns the pair for an address, or ErrPairNotFound.
func (k *Keyring) GetPair(address string) (*Pair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pair, ok := k.pairs[address]
	if !ok {
		return nil, apperrors.ErrPairNotFound
	}
	return pair, nil
}

// Accounts returns the full account list in creation order.
func (k *Keyring) Accounts() []types.AccountInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.accountsLocked()
}

// SubscribeAccounts attaches cb to the account-list feed; cb receives the
// current list synchronously and again after every keyring mutation.
func (k *Keyring) SubscribeAccounts(cb func([]types.AccountInfo)) func() {
	return k.feed.Subscribe(cb)
}

// CreateFromSuri adds a new account from a secret URI (mnemonic phrase plus
// optional derivation path), encrypted under password.
func (k *Keyring) CreateFromSuri(ctx context.Context, suri, password string, meta types.AccountMeta) (*Pair, error) {
	phrase, path := SplitSuri(suri)

	transient, _, err := keyFromMnemonic(phrase, path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		meta.Suri = path
	}
	if meta.WhenCreated == 0 {
		meta.WhenCreated = time.Now().UnixMilli()
	}

	pair, err := newPairFromKey(transient.key, password, meta)
	if err != nil {
		return nil, err
	}
	pair.Lock()

	if err := k.AddPair(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// DeriveFromParent creates a child account under parentAddress. The parent's
// password unlocks it for the derivation only; its lock state is restored
// afterwards. The child is encrypted under its own password and stored locked.
func (k *Keyring) DeriveFromParent(ctx context.Context, parentAddress, path, parentPassword, password string, meta types.AccountMeta) (*Pair, error) {
	parent, err := k.GetPair(parentAddress)
	if err != nil {
		return nil, err
	}

	wasLocked := parent.IsLocked()
	if wasLocked {
		if err := parent.Unlock(parentPassword); err != nil {
			return nil, err
		}
		defer parent.Lock()
	}

	if meta.WhenCreated == 0 {
		meta.WhenCreated = time.Now().UnixMilli()
	}

	child, err := parent.Derive(path, password, meta)
	if err != nil {
		return nil, err
	}
	child.Lock()

	if err := k.AddPair(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// ValidateDerivation checks that the path derives cleanly from the parent and
// returns the child address it would produce. Nothing is stored.
func (k *Keyring) ValidateDerivation(parentAddress, path, parentPassword string) (string, error) {
	parent, err := k.GetPair(parentAddress)
	if err != nil {
		return "", err
	}

	wasLocked := parent.IsLocked()
	if wasLocked {
		if err := parent.Unlock(parentPassword); err != nil {
			return "", err
		}
		defer parent.Lock()
	}

	child, err := parent.Derive(path, "", types.AccountMeta{})
	if err != nil {
		return "", err
	}
	child.Lock()

	return child.Address, nil
}

// AddHardware registers an external hardware account. No key material is
// stored; signing happens on the device and arrives as a ready signature.
func (k *Keyring) AddHardware(ctx context.Context, address, hardwareType string, meta types.AccountMeta) error {
	meta.IsExternal = true
	meta.IsHardware = true
	meta.HardwareType = hardwareType
	if meta.WhenCreated == 0 {
		meta.WhenCreated = time.Now().UnixMilli()
	}

	return k.AddPair(ctx, &Pair{
		Address: address,
		Type:    types.KeypairTypeSecp256k1,
		Meta:    meta,
	})
}

// AddPair inserts a pair and persists it. An existing address is overwritten.
func (k *Keyring) AddPair(ctx context.Context, pair *Pair) error {
	if err := k.persist(ctx, pair); err != nil {
		return err
	}

	k.mu.Lock()
	k.pairs[pair.Address] = pair
	k.mu.Unlock()

	k.notify()
	return nil
}

// ForgetAccount removes an account from memory and storage.
func (k *Keyring) ForgetAccount(ctx context.Context, address string) error {
	k.mu.Lock()
	pair, ok := k.pairs[address]
	k.mu.Unlock()
	if !ok {
		return apperrors.ErrPairNotFound
	}
	pair.Lock()

	if err := k.repo.Delete(ctx, address); err != nil {
		return err
	}

	k.mu.Lock()
	delete(k.pairs, address)
	k.mu.Unlock()

	k.notify()
	return nil
}

// SaveAccountMeta overwrites an account's metadata.
func (k *Keyring) SaveAccountMeta(ctx context.Context, address string, meta types.AccountMeta) error {
	pair, err := k.GetPair(address)
	if err != nil {
		return err
	}

	if err := k.repo.UpdateMeta(ctx, address, meta); err != nil {
		return err
	}

	k.mu.Lock()
	pair.Meta = meta
	k.mu.Unlock()

	k.notify()
	return nil
}

// ChangePassword re-encrypts an account under a new password. The pair ends
// up locked regardless of its prior state.
func (k *Keyring) ChangePassword(ctx context.Context, address, oldPass, newPass string) error {
	pair, err := k.GetPair(address)
	if err != nil {
		return err
	}

	secret, err := decryptSecret(pair.Encoded, pair.Salt, pair.Nonce, oldPass)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidCredential, "oldPass is invalid")
	}

	encoded, salt, nonce, err := encryptSecret(secret, newPass)
	if err != nil {
		return err
	}

	pair.Lock()
	pair.Encoded, pair.Salt, pair.Nonce = encoded, salt, nonce

	return k.persist(ctx, pair)
}

// ValidateAccount reports whether the password decrypts the account.
func (k *Keyring) ValidateAccount(address, password string) bool {
	pair, err := k.GetPair(address)
	if err != nil {
		return false
	}

	_, err = decryptSecret(pair.Encoded, pair.Salt, pair.Nonce, password)
	return err == nil
}

// ExportAccount produces the password-protected keystore JSON for an account,
// authenticated with an integrity tag derived from the same password.
func (k *Keyring) ExportAccount(address, password string) (*types.KeystoreJSON, error) {
	pair, err := k.GetPair(address)
	if err != nil {
		return nil, err
	}

	// Exporting requires proving knowledge of the password.
	if _, err := decryptSecret(pair.Encoded, pair.Salt, pair.Nonce, password); err != nil {
		return nil, err
	}

	out := &types.KeystoreJSON{
		Address: pair.Address,
		Encoded: pair.Encoded,
		Salt:    pair.Salt,
		Nonce:   pair.Nonce,
		Type:    pair.Type,
		Meta:    pair.Meta,
	}

	tag, err := integrityTag(password, pair.Salt, pair.Address, pair.Encoded, pair.Nonce)
	if err != nil {
		return nil, err
	}
	out.Integrity = tag

	return out, nil
}

// RestoreAccount imports a keystore JSON previously produced by
// ExportAccount. Unless skipIntegrityCheck is set, a missing or wrong
// integrity tag fails the restore before anything is written.
func (k *Keyring) RestoreAccount(ctx context.Context, file *types.KeystoreJSON, password string, skipIntegrityCheck bool) error {
	if !skipIntegrityCheck {
		ok, err := verifyIntegrity(file.Integrity, password, file.Salt, file.Address, file.Encoded, file.Nonce)
		if err != nil || !ok {
			return apperrors.New(apperrors.ErrCodeInvalidCredential, "JSON authenticity check failed")
		}
	}

	if _, err := decryptSecret(file.Encoded, file.Salt, file.Nonce, password); err != nil {
		return err
	}

	meta := file.Meta
	if meta.WhenCreated == 0 {
		meta.WhenCreated = time.Now().UnixMilli()
	}

	return k.AddPair(ctx, &Pair{
		Address: file.Address,
		Type:    file.Type,
		Meta:    meta,
		Encoded: file.Encoded,
		Salt:    file.Salt,
		Nonce:   file.Nonce,
	})
}

// RestoreBatch imports several accounts sharing one password.
func (k *Keyring) RestoreBatch(ctx context.Context, batch *types.KeystoreBatchJSON, password string, skipIntegrityCheck bool) error {
	for i := range batch.Accounts {
		if err := k.RestoreAccount(ctx, &batch.Accounts[i], password, skipIntegrityCheck); err != nil {
			return fmt.Errorf("failed to restore account %s: %w", batch.Accounts[i].Address, err)
		}
	}
	return nil
}

// AccountInfoFromJSON extracts the public account information from a keystore
// JSON without needing the password.
func (k *Keyring) AccountInfoFromJSON(file *types.KeystoreJSON) (*types.AccountInfo, error) {
	if file.Address == "" {
		return nil, apperrors.BadRequest("keystore JSON is missing an address")
	}

	return &types.AccountInfo{
		Address:     file.Address,
		Type:        file.Type,
		AccountMeta: file.Meta,
	}, nil
}

// persist writes a pair's row, wrapping the keystore blob first.
func (k *Keyring) persist(ctx context.Context, pair *Pair) error {
	var wrapped []byte
	if pair.Encoded != "" {
		blob, err := json.Marshal(keystoreBlob{
			Encoded: pair.Encoded,
			Salt:    pair.Salt,
			Nonce:   pair.Nonce,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal keystore blob: %w", err)
		}

		wrapped, err = k.wrapper.Wrap(ctx, blob)
		if err != nil {
			return fmt.Errorf("failed to wrap keystore blob: %w", err)
		}
	}

	return k.repo.Save(ctx, &storage.AccountRow{
		Address:  pair.Address,
		Keystore: wrapped,
		Meta:     pair.Meta,
		Type:     pair.Type,
	})
}

func (k *Keyring) accountsLocked() []types.AccountInfo {
	accounts := make([]types.AccountInfo, 0, len(k.pairs))
	for _, pair := range k.pairs {
		accounts = append(accounts, types.AccountInfo{
			Address:     pair.Address,
			Type:        pair.Type,
			AccountMeta: pair.Meta,
		})
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].WhenCreated != accounts[j].WhenCreated {
			return accounts[i].WhenCreated < accounts[j].WhenCreated
		}
		return accounts[i].Address < accounts[j].Address
	})
	return accounts
}

func (k *Keyring) notify() {
	k.mu.Lock()
	accounts := k.accountsLocked()
	k.mu.Unlock()
	k.feed.Publish(accounts)
}
