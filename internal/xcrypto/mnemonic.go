package xcrypto

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// SecretSize is the byte length of an OwnerSecret (256 bits of entropy,
// encoded by BIP-39 as a 24-word mnemonic).
const SecretSize = 32

// SecretToMnemonic encodes a 32-byte OwnerSecret as a BIP-39 English
// mnemonic. secret must be exactly SecretSize bytes.
func SecretToMnemonic(secret []byte) (string, error) {
	if len(secret) != SecretSize {
		return "", fmt.Errorf("xcrypto: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	return bip39.NewMnemonic(secret)
}

// MnemonicToSecret decodes a BIP-39 English mnemonic back into the
// original 32-byte OwnerSecret entropy. Returns an error if the mnemonic's
// checksum word does not validate.
func MnemonicToSecret(mnemonic string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("xcrypto: invalid mnemonic: %w", ErrDecryptFailed)
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: decode mnemonic: %w", err)
	}
	if len(entropy) != SecretSize {
		return nil, fmt.Errorf("xcrypto: mnemonic encodes %d bytes, expected %d", len(entropy), SecretSize)
	}
	return entropy, nil
}
