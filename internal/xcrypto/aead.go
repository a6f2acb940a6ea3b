package xcrypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 extended nonce size (24 bytes),
// large enough to generate at random without a counter.
const NonceSize = chacha20poly1305.NonceSizeX

// Seal encrypts plaintext under key (32 bytes) with additionalData bound
// into the authentication tag, returning nonce||ciphertext||tag. A fresh
// random nonce is drawn from crypto/rand for every call.
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("xcrypto: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, additionalData)
	return sealed, nil
}

// Open decrypts a value produced by Seal. Returns ErrDecryptFailed on any
// authentication failure — callers must treat this as fatal to the message
// only (SPEC_FULL.md §7: SymmetricCryptoDecryptError drops the message,
// the connection stays open).
func Open(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xcrypto: new aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
