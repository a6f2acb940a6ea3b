// Package timestamp implements the Hybrid Logical Clock described in
// SPEC_FULL.md §3 and §4.1: a (millis, counter, nodeId) triple providing a
// total causal order over changes minted across any number of devices.
package timestamp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/xresult"
)

// MaxMillis is the inclusive upper bound for the millis field (2^48 - 2);
// the value 2^48-1 is reserved.
const MaxMillis int64 = (1 << 48) - 2

// MaxCounter is the inclusive upper bound for the counter field.
const MaxCounter uint16 = 65535

// DefaultMaxDrift is the default tolerance, in milliseconds, for how far a
// local or remote millis value may exceed the local physical clock.
const DefaultMaxDrift int64 = 5 * 60 * 1000

// NodeIDSize is the byte length of a NodeID (64 bits).
const NodeIDSize = 8

// NodeID identifies the device that minted a Timestamp, rendered as 16
// lowercase hex characters on the wire and in Timestamp's canonical form.
type NodeID [NodeIDSize]byte

// String renders the NodeID as 16 lowercase hex characters.
func (n NodeID) String() string { return hex.EncodeToString(n[:]) }

// NewNodeID draws a fresh NodeID from rng, used once per device.
func NewNodeID(rng clock.Rand) (NodeID, error) {
	var n NodeID
	if err := rng.Bytes(n[:]); err != nil {
		return NodeID{}, fmt.Errorf("timestamp: generate nodeId: %w", err)
	}
	return n, nil
}

// Timestamp is the HLC triple. The zero value is not a valid Timestamp;
// construct one with Initial.
type Timestamp struct {
	Millis  int64
	Counter uint16
	NodeID  NodeID
}

// Initial allocates a fresh Timestamp at the given physical time with a
// freshly generated NodeID and a zero counter.
func Initial(nowMillis int64, rng clock.Rand) (Timestamp, error) {
	node, err := NewNodeID(rng)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{Millis: nowMillis, NodeID: node}, nil
}

// Compare implements the total order over Timestamps: lexicographic by
// (Millis, Counter, NodeID). Returns -1, 0, or 1.
func Compare(a, b Timestamp) int {
	switch {
	case a.Millis < b.Millis:
		return -1
	case a.Millis > b.Millis:
		return 1
	}
	switch {
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	}
	for i := 0; i < NodeIDSize; i++ {
		if a.NodeID[i] != b.NodeID[i] {
			if a.NodeID[i] < b.NodeID[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Encode returns the canonical 16-byte binary form: 6 big-endian bytes of
// Millis, 2 big-endian bytes of Counter, 8 bytes of NodeID. Byte-wise
// lexicographic comparison of this encoding equals Compare's semantic
// order (SPEC_FULL.md §8).
func (t Timestamp) Encode() [16]byte {
	var out [16]byte
	var millisBuf [8]byte
	binary.BigEndian.PutUint64(millisBuf[:], uint64(t.Millis))
	copy(out[0:6], millisBuf[2:8])
	binary.BigEndian.PutUint16(out[6:8], t.Counter)
	copy(out[8:16], t.NodeID[:])
	return out
}

// ISOString renders t's physical millis as an RFC3339 UTC timestamp, the
// form SPEC_FULL.md §3 specifies for the createdAt/updatedAt system
// columns.
func (t Timestamp) ISOString() string {
	return time.UnixMilli(t.Millis).UTC().Format("2006-01-02T15:04:05.000Z")
}

// Decode parses the canonical 16-byte form produced by Encode.
func Decode(b [16]byte) Timestamp {
	var millisBuf [8]byte
	copy(millisBuf[2:8], b[0:6])
	t := Timestamp{
		Millis:  int64(binary.BigEndian.Uint64(millisBuf[:])),
		Counter: binary.BigEndian.Uint16(b[6:8]),
	}
	copy(t.NodeID[:], b[8:16])
	return t
}

func checkRange(millis int64) error {
	if millis < 0 || millis > MaxMillis {
		return fmt.Errorf("timestamp: millis %d out of range [0, %d]: %w", millis, MaxMillis, xresult.ErrTimestampOutOfRange)
	}
	return nil
}

// Send computes the Timestamp assigned to a new local event, following the
// HLC send rule from SPEC_FULL.md §4.1: next millis is max(now, local
// millis); the counter increments if millis didn't advance, else resets to
// zero. maxDrift bounds how far next millis may run ahead of now.
func Send(local Timestamp, nowMillis, maxDrift int64) (Timestamp, error) {
	nextMillis := local.Millis
	if nowMillis > nextMillis {
		nextMillis = nowMillis
	}
	if nextMillis-nowMillis > maxDrift {
		return Timestamp{}, fmt.Errorf("timestamp: send drift %dms exceeds max %dms: %w", nextMillis-nowMillis, maxDrift, xresult.ErrTimestampDrift)
	}
	if err := checkRange(nextMillis); err != nil {
		return Timestamp{}, err
	}

	var nextCounter uint16
	if nextMillis == local.Millis {
		if local.Counter == MaxCounter {
			return Timestamp{}, fmt.Errorf("timestamp: send counter overflow at millis %d: %w", nextMillis, xresult.ErrTimestampCounterOverflow)
		}
		nextCounter = local.Counter + 1
	}

	return Timestamp{Millis: nextMillis, Counter: nextCounter, NodeID: local.NodeID}, nil
}

// Receive computes the Timestamp merged from a local clock and a remote
// message's Timestamp, following the HLC receive rule from SPEC_FULL.md
// §4.1. The counter is taken from whichever of local/remote shares the
// winning millis value (or bumped past both if they tie), matching the
// standard HLC merge semantics.
func Receive(local, remote Timestamp, nowMillis, maxDrift int64) (Timestamp, error) {
	nextMillis := nowMillis
	if local.Millis > nextMillis {
		nextMillis = local.Millis
	}
	if remote.Millis > nextMillis {
		nextMillis = remote.Millis
	}

	if nextMillis-nowMillis > maxDrift {
		return Timestamp{}, fmt.Errorf("timestamp: receive drift %dms exceeds max %dms: %w", nextMillis-nowMillis, maxDrift, xresult.ErrTimestampDrift)
	}
	if err := checkRange(nextMillis); err != nil {
		return Timestamp{}, err
	}

	var nextCounter uint16
	switch {
	case nextMillis == local.Millis && nextMillis == remote.Millis:
		nextCounter = local.Counter
		if remote.Counter > nextCounter {
			nextCounter = remote.Counter
		}
		if nextCounter == MaxCounter {
			return Timestamp{}, fmt.Errorf("timestamp: receive counter overflow at millis %d: %w", nextMillis, xresult.ErrTimestampCounterOverflow)
		}
		nextCounter++
	case nextMillis == local.Millis:
		if local.Counter == MaxCounter {
			return Timestamp{}, fmt.Errorf("timestamp: receive counter overflow at millis %d: %w", nextMillis, xresult.ErrTimestampCounterOverflow)
		}
		nextCounter = local.Counter + 1
	case nextMillis == remote.Millis:
		if remote.Counter == MaxCounter {
			return Timestamp{}, fmt.Errorf("timestamp: receive counter overflow at millis %d: %w", nextMillis, xresult.ErrTimestampCounterOverflow)
		}
		nextCounter = remote.Counter + 1
	default:
		nextCounter = 0
	}

	return Timestamp{Millis: nextMillis, Counter: nextCounter, NodeID: local.NodeID}, nil
}
