package keyring

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/types"
)

// Pair is one keyring account. The private key lives in memory only while the
// pair is unlocked; at rest only the password-encrypted form exists.
type Pair struct {
	Address string
	Type    types.KeypairType
	Meta    types.AccountMeta

	// Encrypted secret, always populated.
	Encoded string
	Salt    string
	Nonce   string

	mu  sync.Mutex
	key *ecdsa.PrivateKey // nil while locked
}

// newPairFromKey builds an unlocked pair around a fresh private key and
// immediately produces its encrypted form.
func newPairFromKey(key *ecdsa.PrivateKey, password string, meta types.AccountMeta) (*Pair, error) {
	encoded, salt, nonce, err := encryptSecret(crypto.FromECDSA(key), password)
	if err != nil {
		return nil, err
	}

	return &Pair{
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Type:    types.KeypairTypeSecp256k1,
		Meta:    meta,
		Encoded: encoded,
		Salt:    salt,
		Nonce:   nonce,
		key:     key,
	}, nil
}

// IsLocked reports whether the private key is currently held in memory.
func (p *Pair) IsLocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key == nil
}

// Lock discards the in-memory private key.
func (p *Pair) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = nil
}

// Unlock decrypts the private key with the password and keeps it in memory
// until Lock is called. A wrong password returns ErrInvalidCredential.
func (p *Pair) Unlock(password string) error {
	secret, err := decryptSecret(p.Encoded, p.Salt, p.Nonce, password)
	if err != nil {
		return err
	}

	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return fmt.Errorf("keystore holds an invalid key: %w", err)
	}

	p.mu.Lock()
	p.key = key
	p.mu.Unlock()

	return nil
}

// Sign signs the keccak256 digest of payload. The pair must be unlocked.
func (p *Pair) Sign(payload []byte) (string, error) {
	p.mu.Lock()
	key := p.key
	p.mu.Unlock()

	if key == nil {
		return "", apperrors.New(apperrors.ErrCodeInvalidCredential, "Password needed to unlock the account")
	}

	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// Derive produces a child pair from this pair and a derivation path suffix.
// The parent must be unlocked; the child comes back unlocked and encrypted
// with the supplied password.
func (p *Pair) Derive(path, password string, meta types.AccountMeta) (*Pair, error) {
	if err := ValidateDerivationPath(path); err != nil {
		return nil, err
	}

	p.mu.Lock()
	key := p.key
	p.mu.Unlock()

	if key == nil {
		return nil, apperrors.ErrInvalidCredential
	}

	// Deterministic hardened derivation: the child secret is a hash of the
	// parent secret and the path, reduced into the curve order.
	seed := crypto.Keccak256(append(crypto.FromECDSA(key), []byte(path)...))
	childKey, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("derived key is invalid: %w", err)
	}

	meta.ParentAddress = p.Address
	meta.Suri = path

	return newPairFromKey(childKey, password, meta)
}

// ValidateDerivationPath checks the /segment[/segment...] path shape.
func ValidateDerivationPath(path string) error {
	if path == "" || !strings.HasPrefix(path, "/") {
		return apperrors.BadRequest(fmt.Sprintf("%q is not a valid derivation path", path))
	}
	for _, segment := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if segment == "" {
			return apperrors.BadRequest(fmt.Sprintf("%q is not a valid derivation path", path))
		}
		for _, r := range segment {
			if !isPathRune(r) {
				return apperrors.BadRequest(fmt.Sprintf("%q is not a valid derivation path", path))
			}
		}
	}
	return nil
}

func isPathRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}
