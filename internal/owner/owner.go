// Package owner implements the cryptographic identity model of
// SPEC_FULL.md §3 and §4.3: deterministic Owner{id, encryptionKey,
// writeKey} derivation from a 32-byte OwnerSecret via SLIP-21, and the
// four Owner flavors (App, Shard, Shared, SharedReadonly).
package owner

import (
	"encoding/base32"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/xcrypto"
)

// idEncoding is a URL-safe, lowercase, no-padding base32 alphabet used to
// render an Owner's 16-byte id as text (SPEC_FULL.md §6: "text form is the
// same 16 bytes re-encoded with a URL-safe alphabet").
var idEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// Kind distinguishes the four Owner flavors named in SPEC_FULL.md §3.
type Kind int

const (
	// KindApp is the coordinator owner, the one that bears the mnemonic.
	KindApp Kind = iota
	// KindShard is a deletable partition, derivable from an App owner's
	// encryption key at a named path.
	KindShard
	// KindShared is a collaborative owner shared between devices.
	KindShared
	// KindSharedReadonly is a read-only projection of a Shared owner.
	KindSharedReadonly
)

func (k Kind) String() string {
	switch k {
	case KindApp:
		return "app"
	case KindShard:
		return "shard"
	case KindShared:
		return "shared"
	case KindSharedReadonly:
		return "shared-readonly"
	default:
		return "unknown"
	}
}

// Secret is the 32-byte seed all of an Owner's key material is derived
// from. It must never be persisted in plaintext outside of the device
// that owns it (the mnemonic is its human-shareable form).
type Secret [xcrypto.SecretSize]byte

// CreateSecret draws a fresh OwnerSecret from rng.
func CreateSecret(rng clock.Rand) (Secret, error) {
	var s Secret
	if err := rng.Bytes(s[:]); err != nil {
		return Secret{}, fmt.Errorf("owner: generate secret: %w", err)
	}
	return s, nil
}

// SecretFromMnemonic decodes a BIP-39 mnemonic into an OwnerSecret.
func SecretFromMnemonic(mnemonic string) (Secret, error) {
	b, err := xcrypto.MnemonicToSecret(mnemonic)
	if err != nil {
		return Secret{}, err
	}
	var s Secret
	copy(s[:], b)
	return s, nil
}

// Mnemonic encodes the secret as its BIP-39 mnemonic.
func (s Secret) Mnemonic() (string, error) {
	return xcrypto.SecretToMnemonic(s[:])
}

// Owner is the derived identity record: an id, a symmetric encryption
// key for change values, and a write-authentication key.
type Owner struct {
	Kind          Kind
	ID            string // base32, URL-safe rendering of the 16-byte id
	IDBytes       [16]byte
	EncryptionKey [32]byte
	WriteKey      [16]byte
}

// pathOwnerID, pathEncryptionKey, pathWriteKey are the fixed SLIP-21
// derivation paths from SPEC_FULL.md §3.
var (
	pathOwnerID       = []xcrypto.PathElement{xcrypto.Label("Evolu"), xcrypto.Label("OwnerIdBytes")}
	pathEncryptionKey = []xcrypto.PathElement{xcrypto.Label("Evolu"), xcrypto.Label("OwnerEncryptionKey")}
	pathWriteKey      = []xcrypto.PathElement{xcrypto.Label("Evolu"), xcrypto.Label("OwnerWriteKey")}
)

// EncodeID renders a 16-byte owner id in its text form, the same
// encoding Derive uses internally. Exported so callers that reload an
// Owner's IDBytes from storage (rather than deriving it from a secret)
// can reconstruct the matching text id.
func EncodeID(id [16]byte) string {
	return idEncoding.EncodeToString(id[:])
}

// Derive produces the Owner record deterministically from secret.
func Derive(kind Kind, secret Secret) Owner {
	idKey := xcrypto.DeriveSLIP21(secret[:], pathOwnerID...)
	encKey := xcrypto.DeriveSLIP21(secret[:], pathEncryptionKey...)
	writeKey := xcrypto.DeriveSLIP21(secret[:], pathWriteKey...)

	o := Owner{Kind: kind}
	copy(o.IDBytes[:], idKey[:16])
	copy(o.EncryptionKey[:], encKey)
	copy(o.WriteKey[:], writeKey[:16])
	o.ID = idEncoding.EncodeToString(o.IDBytes[:])
	return o
}

// NewAppOwner creates the coordinator owner for a fresh device, drawing a
// new secret from rng.
func NewAppOwner(rng clock.Rand) (Owner, Secret, error) {
	secret, err := CreateSecret(rng)
	if err != nil {
		return Owner{}, Secret{}, err
	}
	return Derive(KindApp, secret), secret, nil
}

// AppOwnerFromMnemonic reconstructs the coordinator owner from its
// mnemonic, used by restore (SPEC_FULL.md §4.4).
func AppOwnerFromMnemonic(mnemonic string) (Owner, Secret, error) {
	secret, err := SecretFromMnemonic(mnemonic)
	if err != nil {
		return Owner{}, Secret{}, err
	}
	return Derive(KindApp, secret), secret, nil
}

// DeriveShardOwner derives a ShardOwner from an App owner's encryption
// key at a named path, per SPEC_FULL.md §4.3: the shard secret is
// SLIP21(app.encryptionKey, path), then standard Owner derivation is
// applied to that shard secret.
func DeriveShardOwner(appEncryptionKey [32]byte, path ...xcrypto.PathElement) Owner {
	shardSecretBytes := xcrypto.DeriveSLIP21(appEncryptionKey[:], path...)
	var shardSecret Secret
	copy(shardSecret[:], shardSecretBytes)
	return Derive(KindShard, shardSecret)
}

// NewSharedOwner creates a fresh collaborative owner, drawing a new
// secret from rng. Its mnemonic is the value shared out-of-band with
// collaborators.
func NewSharedOwner(rng clock.Rand) (Owner, Secret, error) {
	secret, err := CreateSecret(rng)
	if err != nil {
		return Owner{}, Secret{}, err
	}
	return Derive(KindShared, secret), secret, nil
}

// SharedOwnerFromMnemonic reconstructs a collaborative owner on a peer
// device that received the mnemonic out-of-band.
func SharedOwnerFromMnemonic(mnemonic string) (Owner, Secret, error) {
	secret, err := SecretFromMnemonic(mnemonic)
	if err != nil {
		return Owner{}, Secret{}, err
	}
	return Derive(KindShared, secret), secret, nil
}

// ReadonlyProjection derives the SharedReadonlyOwner counterpart of a
// Shared owner: same id and encryption key (so it can decrypt), but with
// its write key zeroed so mutate-path code can refuse to author changes
// under it.
func (o Owner) ReadonlyProjection() Owner {
	ro := o
	ro.Kind = KindSharedReadonly
	ro.WriteKey = [16]byte{}
	return ro
}

// CanWrite reports whether this Owner is permitted to author mutations.
func (o Owner) CanWrite() bool {
	return o.Kind != KindSharedReadonly
}

// RotateWriteKey derives a fresh write key by mixing a random 16-byte
// value into the existing SLIP-21 write-key leaf, returning the new
// Owner and the previous write key (SPEC_FULL.md's Supplemented
// Features: "rotation is a single durable write" — the caller persists
// both atomically and must not accept writes authenticated with the old
// key once the rotation record commits).
func (o Owner) RotateWriteKey(rng clock.Rand) (next Owner, previous [16]byte, err error) {
	var salt [16]byte
	if err := rng.Bytes(salt[:]); err != nil {
		return Owner{}, [16]byte{}, fmt.Errorf("owner: rotate write key: %w", err)
	}
	next = o
	previous = o.WriteKey
	mixed := xcrypto.DeriveSLIP21(append(append([]byte{}, o.WriteKey[:]...), salt[:]...), xcrypto.Label("Evolu"), xcrypto.Label("OwnerWriteKeyRotation"))
	copy(next.WriteKey[:], mixed[:16])
	return next, previous, nil
}
