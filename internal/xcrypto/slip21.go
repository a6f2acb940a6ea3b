// Package xcrypto implements the cryptographic primitives of SPEC_FULL.md's
// Cryptography module: SLIP-21 symmetric key derivation, XChaCha20-Poly1305
// AEAD sealing, and BIP-39 mnemonic encoding of an OwnerSecret.
package xcrypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

// slip21Root is the SLIP-21 master-node HMAC key, fixed by the SLIP-21
// specification ("Symmetric key seed").
var slip21Root = []byte("Symmetric key seed")

// PathElement is one component of a SLIP-21 derivation path. It is either a
// string label or an integer index; both are encoded as length-prefixed
// UTF-8 bytes so derivation is reproducible across implementations (see
// SPEC_FULL.md §4.3 — "Path components are strings or integers; encoding
// must match across implementations").
type PathElement struct {
	label string
	isInt bool
	index int64
}

// Label builds a string PathElement.
func Label(s string) PathElement { return PathElement{label: s} }

// Index builds an integer PathElement, used by shard-owner derivation
// paths that are keyed by a numeric shard id.
func Index(i int64) PathElement { return PathElement{isInt: true, index: i} }

// encode returns the length-prefixed byte representation of the element.
func (p PathElement) encode() []byte {
	var s string
	if p.isInt {
		s = fmt.Sprintf("%d", p.index)
	} else {
		s = p.label
	}
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// DeriveSLIP21 derives a 64-byte SLIP-21 node from seed and path, returning
// the 32-byte key half (bytes [32:64], per SLIP-21 §"Private key context").
// Each path element is hashed in as HMAC-SHA512(parent_key, 0x00 || element).
func DeriveSLIP21(seed []byte, path ...PathElement) []byte {
	node := hmacSHA512(slip21Root, seed)
	for _, elem := range path {
		msg := append([]byte{0x00}, elem.encode()...)
		node = hmacSHA512(node[:32], msg)
	}
	out := make([]byte, 32)
	copy(out, node[32:64])
	return out
}

func hmacSHA512(key, msg []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
