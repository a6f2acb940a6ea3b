package xcrypto

import "errors"

// ErrDecryptFailed is returned by Open when the AEAD tag fails to verify,
// or the mnemonic checksum does not match.
var ErrDecryptFailed = errors.New("xcrypto: decryption failed")
