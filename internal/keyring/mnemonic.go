package keyring

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"

	apperrors "github.com/walletgate/walletgate/pkg/errors"
)

const seedDefaultLength = 12

var seedLengths = []int{12, 15, 18, 21, 24}

// GenerateMnemonic creates a new BIP-39 mnemonic of the given word count.
func GenerateMnemonic(words int) (string, error) {
	if words == 0 {
		words = seedDefaultLength
	}
	if !validSeedLength(words) {
		return "", apperrors.BadRequest(fmt.Sprintf("Mnemonic needs to contain %s words", joinSeedLengths()))
	}

	// 12 words = 128 bits of entropy, +32 bits per 3 extra words.
	entropyBits := 128 + (words-12)/3*32
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks word count and checksum.
func ValidateMnemonic(mnemonic string) error {
	words := len(strings.Fields(mnemonic))
	if !validSeedLength(words) {
		return apperrors.BadRequest(fmt.Sprintf("Mnemonic needs to contain %s words", joinSeedLengths()))
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return apperrors.BadRequest("Not a valid mnemonic seed")
	}
	return nil
}

// keyFromMnemonic deterministically derives the root private key of a
// mnemonic. The optional derivation path suffix is applied on top.
func keyFromMnemonic(mnemonic, path string) (*Pair, string, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, "", err
	}

	seed := bip39.NewSeed(mnemonic, "")
	secret := crypto.Keccak256(seed)

	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic produced an invalid key: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	if path != "" {
		if err := ValidateDerivationPath(path); err != nil {
			return nil, "", err
		}
		childSecret := crypto.Keccak256(append(crypto.FromECDSA(key), []byte(path)...))
		childKey, err := crypto.ToECDSA(childSecret)
		if err != nil {
			return nil, "", fmt.Errorf("derived key is invalid: %w", err)
		}
		key = childKey
		address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}

	// The caller encrypts; hand back a transient unlocked pair.
	return &Pair{key: key, Address: address}, address, nil
}

// InspectSuri derives the address a secret URI would produce, storing nothing.
func InspectSuri(suri string) (string, error) {
	phrase, path := SplitSuri(suri)
	_, address, err := keyFromMnemonic(phrase, path)
	return address, err
}

// SplitSuri separates a secret URI into its mnemonic phrase and derivation
// path suffix ("word word ... /path/segments").
func SplitSuri(suri string) (phrase, path string) {
	if idx := strings.Index(suri, "/"); idx >= 0 {
		return strings.TrimSpace(suri[:idx]), suri[idx:]
	}
	return strings.TrimSpace(suri), ""
}

func validSeedLength(words int) bool {
	for _, l := range seedLengths {
		if words == l {
			return true
		}
	}
	return false
}

func joinSeedLengths() string {
	parts := make([]string, len(seedLengths))
	for i, l := range seedLengths {
		parts[i] = fmt.Sprintf("%d", l)
	}
	return strings.Join(parts, ", ")
}
