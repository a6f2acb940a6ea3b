// Package merkle implements the ternary time-bucketed hash trie described
// in SPEC_FULL.md §3 and §4.2: a Merkle summary of every Timestamp ever
// seen, enabling O(log n) divergence detection between two replicas.
package merkle

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// bucketMillis is the width of one leaf-level time bucket (one minute),
// matching SPEC_FULL.md §3's "per-minute bucketing up to ~45 years of
// depth" (base-3 digits of floor(millis/60000) fit in 21 trits for any
// minute count that fits in a uint32).
const bucketMillis = 60_000

// maxDepth bounds how many base-3 digits are considered; beyond this the
// remaining digits are always zero for any realistic timestamp, so the
// trie does not grow unbounded.
const maxDepth = 32

// Node is one node of the sparse ternary trie. Hash is the XOR of every
// Timestamp hash in the node's subtree (or, for a leaf, just its own
// Timestamp hash). Children are indexed 0, 1, 2 by base-3 digit; a nil
// entry means no Timestamp has ever been inserted along that branch.
type Node struct {
	Hash     uint32
	Children [3]*Node
}

// Tree is the root of a Merkle trie. The zero value is an empty tree.
type Tree struct {
	Root Node
}

// New returns an empty Tree.
func New() *Tree { return &Tree{} }

// hashTimestamp mixes a Timestamp's canonical 16-byte encoding down to a
// 32-bit value via FNV-1a, matching SPEC_FULL.md §3's "hash of a timestamp
// is a 32-bit mix of its canonical byte form".
func hashTimestamp(ts timestamp.Timestamp) uint32 {
	enc := ts.Encode()
	h := fnv.New32a()
	h.Write(enc[:])
	return h.Sum32()
}

// path returns the base-3 digits of floor(ts.Millis/bucketMillis), most
// significant digit first, padded/truncated to maxDepth digits.
func path(ts timestamp.Timestamp) [maxDepth]uint8 {
	minute := uint64(ts.Millis) / bucketMillis
	var digits [maxDepth]uint8
	for i := maxDepth - 1; i >= 0; i-- {
		digits[i] = uint8(minute % 3)
		minute /= 3
	}
	return digits
}

// Insert adds ts to the tree, XORing its hash into every ancestor along
// its bucket path. Insertion is idempotent only in the sense that
// inserting the same Timestamp twice XORs its hash in twice and cancels
// out (SPEC_FULL.md §4.2 calls Insert idempotent under the stronger
// reading: re-running Insert* over the same timestamp *set* converges to
// the same tree regardless of order, which holds because XOR is
// commutative and associative — callers must not insert duplicates twice
// unless they intend to toggle them out).
func (t *Tree) Insert(ts timestamp.Timestamp) {
	h := hashTimestamp(ts)
	digits := path(ts)

	node := &t.Root
	node.Hash ^= h
	for _, d := range digits {
		if node.Children[d] == nil {
			node.Children[d] = &Node{}
		}
		node = node.Children[d]
		node.Hash ^= h
	}
}

// Diff compares two trees and returns the earliest diverging minute
// bucket, or (0, false) if the trees are equal. The returned minute is
// monotone: replaying every Timestamp with Millis >= minute*bucketMillis
// from the side with newer data is sufficient for the two replicas to
// converge (SPEC_FULL.md §4.2).
func Diff(a, b *Tree) (minute int64, diverges bool) {
	if a.Root.Hash == b.Root.Hash {
		return 0, false
	}
	return diffNode(&a.Root, &b.Root, 0, 0), true
}

// diffNode descends both tries in lockstep. If exactly one of the three
// children disagrees, the divergence is isolated to that branch and
// descent continues into it. If zero or more than one child disagrees,
// the divergence cannot be isolated further (zero only happens on a hash
// collision) and the algorithm stops, reporting the earliest minute
// covered by the current subtree — for two totally disjoint trees this
// bottoms out at the root, i.e. minute 0, matching SPEC_FULL.md §4.2's
// documented edge case. na/nb may be nil, standing in for an all-zero
// subtree.
func diffNode(na, nb *Node, depth int, prefix int64) int64 {
	if depth == maxDepth {
		return prefix
	}

	diffCount := 0
	diffDigit := -1
	for d := 0; d < 3; d++ {
		var ca, cb *Node
		if na != nil {
			ca = na.Children[d]
		}
		if nb != nil {
			cb = nb.Children[d]
		}
		if nodeHash(ca) != nodeHash(cb) {
			diffCount++
			diffDigit = d
		}
	}

	if diffCount != 1 {
		return subtreeStartMinute(depth, prefix)
	}

	var ca, cb *Node
	if na != nil {
		ca = na.Children[diffDigit]
	}
	if nb != nil {
		cb = nb.Children[diffDigit]
	}
	return diffNode(ca, cb, depth+1, prefix*3+int64(diffDigit))
}

// subtreeStartMinute returns the smallest minute bucket covered by the
// subtree reached by prefix at the given depth.
func subtreeStartMinute(depth int, prefix int64) int64 {
	scale := int64(1)
	for i := 0; i < maxDepth-depth; i++ {
		scale *= 3
	}
	return prefix * scale
}

func nodeHash(n *Node) uint32 {
	if n == nil {
		return 0
	}
	return n.Hash
}

// DiffMinuteToMillis converts a Diff minute bucket back into the
// inclusive millis lower bound a caller should use when asking storage
// for "all messages with timestamp >= this bound", per SPEC_FULL.md §4.2.
func DiffMinuteToMillis(minute int64) int64 {
	return minute * bucketMillis
}

// HeadBytes returns the tree's root hash as 4 big-endian bytes, for quick
// equality checks between trees without walking them. It is not
// persisted: the trie is rebuilt from the history log on load.
func (t *Tree) HeadBytes() [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], t.Root.Hash)
	return out
}
