// Package protocol implements the binary wire envelope of SPEC_FULL.md
// §4.8: a versioned, AEAD-sealed carrier for change records passed
// between the CRDT engine and a relay over internal/syncclient's
// transports, plus per-owner usage accounting for quota tracking.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/timestamp"
	"github.com/evoluhq/evolu-go/internal/xcrypto"
)

// Version1 is the only protocol major version this package speaks.
const Version1 byte = 1

const flagHasWriteKey byte = 1 << 0

// ErrEnvelopeTooShort is returned when a frame is truncated before its
// header, write key, or sealed payload can be read in full.
var ErrEnvelopeTooShort = errors.New("protocol: envelope too short")

// ProtocolUnsupportedVersionError is returned when a frame's version
// byte names a major version this package doesn't speak, per
// SPEC_FULL.md §4.8. Checked before any decryption is attempted.
type ProtocolUnsupportedVersionError struct {
	Version byte
}

func (e *ProtocolUnsupportedVersionError) Error() string {
	return fmt.Sprintf("protocol: unsupported version %d", e.Version)
}

// Change is one synced cell mutation — the wire analogue of
// crdt.Message, the unit Encode/Decode operate on.
type Change struct {
	Table     schema.TableName
	RowID     string
	Column    schema.ColumnName
	Value     schema.Value
	Timestamp timestamp.Timestamp
}

// Envelope is a decoded frame: the owner it's scoped to, an optional
// write key (present on writes — SPEC_FULL.md §4.8's "write-key
// authentication accompanies writes"), and the changes it carries.
type Envelope struct {
	Version  byte
	OwnerID  [16]byte
	WriteKey *[16]byte
	Changes  []Change
}

// NewEnvelope builds an Envelope addressed to o, attaching o's write key
// when includeWriteKey is true.
func NewEnvelope(o owner.Owner, includeWriteKey bool, changes []Change) Envelope {
	env := Envelope{Version: Version1, OwnerID: o.IDBytes, Changes: changes}
	if includeWriteKey {
		wk := o.WriteKey
		env.WriteKey = &wk
	}
	return env
}

// Encode seals env.Changes under encryptionKey and frames the result
// with env's header fields. The version byte and owner id are bound
// into the AEAD's additional data, so a sealed payload cannot be
// replayed under a different owner or version.
func Encode(env Envelope, encryptionKey [32]byte) ([]byte, error) {
	plaintext := encodeChanges(env.Changes)

	sealed, err := xcrypto.Seal(encryptionKey[:], plaintext, envelopeAAD(env.Version, env.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("protocol: seal: %w", err)
	}

	var flags byte
	if env.WriteKey != nil {
		flags |= flagHasWriteKey
	}

	out := make([]byte, 0, 1+16+1+16+4+len(sealed))
	out = append(out, env.Version)
	out = append(out, env.OwnerID[:]...)
	out = append(out, flags)
	if env.WriteKey != nil {
		out = append(out, env.WriteKey[:]...)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	out = append(out, lenBuf[:]...)
	out = append(out, sealed...)
	return out, nil
}

// Decode parses and authenticates a frame. A version mismatch is
// reported before any decryption is attempted.
func Decode(frame []byte, encryptionKey [32]byte) (Envelope, error) {
	if len(frame) < 1+16+1+4 {
		return Envelope{}, ErrEnvelopeTooShort
	}

	version := frame[0]
	if version != Version1 {
		return Envelope{}, &ProtocolUnsupportedVersionError{Version: version}
	}

	var ownerID [16]byte
	copy(ownerID[:], frame[1:17])
	flags := frame[17]
	offset := 18

	var writeKey *[16]byte
	if flags&flagHasWriteKey != 0 {
		if len(frame) < offset+16 {
			return Envelope{}, ErrEnvelopeTooShort
		}
		var wk [16]byte
		copy(wk[:], frame[offset:offset+16])
		writeKey = &wk
		offset += 16
	}

	if len(frame) < offset+4 {
		return Envelope{}, ErrEnvelopeTooShort
	}
	payloadLen := binary.BigEndian.Uint32(frame[offset : offset+4])
	offset += 4
	if uint32(len(frame)-offset) < payloadLen {
		return Envelope{}, ErrEnvelopeTooShort
	}
	sealed := frame[offset : offset+int(payloadLen)]

	plaintext, err := xcrypto.Open(encryptionKey[:], sealed, envelopeAAD(version, ownerID))
	if err != nil {
		return Envelope{}, err
	}

	changes, err := decodeChanges(plaintext)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Version: version, OwnerID: ownerID, WriteKey: writeKey, Changes: changes}, nil
}

// PeekOwnerID reads a frame's owner id without decrypting its payload,
// so a multiplexed transport can route an inbound frame to the right
// owner's encryption key before calling Decode.
func PeekOwnerID(frame []byte) ([16]byte, error) {
	if len(frame) < 1+16 {
		return [16]byte{}, ErrEnvelopeTooShort
	}
	var ownerID [16]byte
	copy(ownerID[:], frame[1:17])
	return ownerID, nil
}

func envelopeAAD(version byte, ownerID [16]byte) []byte {
	aad := make([]byte, 0, 17)
	aad = append(aad, version)
	return append(aad, ownerID[:]...)
}
