package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
)

// scrypt parameters for password-based key derivation. Interactive-login
// strength; raising N invalidates no existing keystores because the salt and
// parameters travel with the blob.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// deriveKey stretches a password into an AES key using the stored salt.
func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// encryptSecret encrypts a private key with a password. Returns the
// ciphertext, the salt and the nonce, all hex-encoded for JSON transport.
func encryptSecret(secret []byte, password string) (encoded, saltHex, nonceHex string, err error) {
	salt := make([]byte, saltLen)
	if _, err = io.ReadFull(rand.Reader, salt); err != nil {
		return "", "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return "", "", "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secret, nil)

	return hex.EncodeToString(ciphertext), hex.EncodeToString(salt), hex.EncodeToString(nonce), nil
}

// decryptSecret reverses encryptSecret. A wrong password surfaces as
// ErrInvalidCredential, not as a generic decrypt failure.
func decryptSecret(encoded, saltHex, nonceHex, password string) ([]byte, error) {
	ciphertext, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed keystore ciphertext: %w", err)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("malformed keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("malformed keystore nonce: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("malformed keystore nonce length")
	}

	secret, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.ErrInvalidCredential
	}

	return secret, nil
}

// integrityTag authenticates exported keystore JSON against its password, so
// a restore can detect tampering before touching the keyring.
func integrityTag(password, saltHex string, parts ...string) (string, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("malformed keystore salt: %w", err)
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	for _, part := range parts {
		mac.Write([]byte(part))
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// verifyIntegrity checks an exported keystore's integrity tag.
func verifyIntegrity(tag, password, saltHex string, parts ...string) (bool, error) {
	expected, err := integrityTag(password, saltHex, parts...)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(tag)), nil
}
