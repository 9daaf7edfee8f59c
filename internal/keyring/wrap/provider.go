// Package wrap provides at-rest wrapping of persisted keystore blobs. The
// password-encrypted keystore is wrapped once more before it hits the
// database, so a database leak alone never exposes even the encrypted form.
package wrap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Provider wraps and unwraps keystore blobs.
type Provider interface {
	// Wrap encrypts a keystore blob for storage.
	Wrap(ctx context.Context, data []byte) ([]byte, error)

	// Unwrap decrypts a stored keystore blob.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)

	// Name returns the provider name (e.g. "local", "aws-kms", "vault").
	Name() string
}

// Supported provider names.
const (
	ProviderLocal  = "local"
	ProviderAWSKMS = "aws-kms"
	ProviderVault  = "vault"
)

// Config selects and configures a wrap provider.
type Config struct {
	Provider string

	// Local provider
	LocalKeyHex string

	// AWS KMS
	AWSKeyID  string
	AWSRegion string

	// Vault Transit
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// New creates a Provider based on the configuration.
func New(cfg *Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.LocalKeyHex)
	case ProviderAWSKMS:
		return NewAWSKMSProvider(cfg.AWSKeyID, cfg.AWSRegion)
	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported wrap provider: %s (supported: %s, %s, %s)",
			cfg.Provider, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

// LocalProvider wraps with AES-GCM under a locally held master key. Suitable
// for development and single-host deployments.
type LocalProvider struct {
	masterKey []byte
}

// NewLocalProvider creates a local provider from a hex-encoded 32-byte key.
func NewLocalProvider(keyHex string) (*LocalProvider, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("master key is required for the local wrap provider")
	}

	masterKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	return &LocalProvider{masterKey: masterKey}, nil
}

// Wrap encrypts data with AES-GCM, prefixing the nonce.
func (p *LocalProvider) Wrap(ctx context.Context, data []byte) ([]byte, error) {
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Unwrap decrypts a nonce-prefixed AES-GCM blob.
func (p *LocalProvider) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := wrapped[:nonceSize], wrapped[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap: %w", err)
	}

	return plaintext, nil
}

// Name returns the provider name
func (p *LocalProvider) Name() string { return ProviderLocal }

func (p *LocalProvider) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Ensure providers implement Provider
var (
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*AWSKMSProvider)(nil)
	_ Provider = (*VaultProvider)(nil)
)
