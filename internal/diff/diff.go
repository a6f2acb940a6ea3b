// Package diff implements SPEC_FULL.md §3 and §4.7's row-level patches
// between two query result snapshots: ReplaceAll or a list of ReplaceAt
// edits, whichever is smaller to apply.
package diff

import "github.com/evoluhq/evolu-go/internal/schema"

// PatchKind distinguishes the two patch shapes.
type PatchKind int

const (
	// ReplaceAll replaces an entire row set — used when row counts differ
	// or there is no prior snapshot to diff against.
	ReplaceAll PatchKind = iota
	// ReplaceAt replaces a single row at a given index.
	ReplaceAt
)

// Patch is one edit in a minimal diff between two row snapshots.
type Patch struct {
	Kind  PatchKind
	Index int // meaningful only for ReplaceAt
	Rows  []schema.Row
	Row   schema.Row // meaningful only for ReplaceAt
}

// rowsEqual compares two rows by value across every column key present in
// either row (so a row gaining or losing a column, which should not
// happen within one query's result set, is still detected as a change).
func rowsEqual(a, b schema.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MakePatches computes the minimal diff from prev to next, per
// SPEC_FULL.md §4.7:
//   - prev == nil (no prior snapshot) -> ReplaceAll
//   - len(prev) != len(next) -> ReplaceAll
//   - otherwise, compare row by row; emit ReplaceAt for every index that
//     differs; if every row differs, compact to a single ReplaceAll.
func MakePatches(prev, next []schema.Row) []Patch {
	if prev == nil {
		return []Patch{{Kind: ReplaceAll, Rows: next}}
	}
	if len(prev) != len(next) {
		return []Patch{{Kind: ReplaceAll, Rows: next}}
	}

	var patches []Patch
	for i := range next {
		if !rowsEqual(prev[i], next[i]) {
			patches = append(patches, Patch{Kind: ReplaceAt, Index: i, Row: next[i]})
		}
	}

	if len(next) > 0 && len(patches) == len(next) {
		return []Patch{{Kind: ReplaceAll, Rows: next}}
	}
	return patches
}

// ApplyPatches applies patches to prev, returning the resulting row
// snapshot. Used by tests and by §8's testable property
// `applyPatches(makePatches(prev, next), prev) == next`.
func ApplyPatches(patches []Patch, prev []schema.Row) []schema.Row {
	result := make([]schema.Row, len(prev))
	copy(result, prev)
	for _, p := range patches {
		switch p.Kind {
		case ReplaceAll:
			result = make([]schema.Row, len(p.Rows))
			copy(result, p.Rows)
		case ReplaceAt:
			if p.Index >= 0 && p.Index < len(result) {
				result[p.Index] = p.Row
			}
		}
	}
	return result
}
