package merkle

import (
	"testing"

	"github.com/evoluhq/evolu-go/internal/timestamp"
	"github.com/stretchr/testify/require"
)

func ts(millis int64, node byte) timestamp.Timestamp {
	var n timestamp.NodeID
	n[0] = node
	return timestamp.Timestamp{Millis: millis, NodeID: n}
}

func TestEqualTreesDoNotDiverge(t *testing.T) {
	a, b := New(), New()
	for _, m := range []int64{60_000, 120_000, 999_999_000} {
		a.Insert(ts(m, 1))
		b.Insert(ts(m, 1))
	}

	_, diverges := Diff(a, b)
	require.False(t, diverges)
}

func TestInsertOrderDoesNotAffectRootHash(t *testing.T) {
	a, b := New(), New()
	timestamps := []timestamp.Timestamp{ts(60_000, 1), ts(120_000, 2), ts(999_999_000, 3)}

	for _, tsv := range timestamps {
		a.Insert(tsv)
	}
	for i := len(timestamps) - 1; i >= 0; i-- {
		b.Insert(timestamps[i])
	}

	require.Equal(t, a.Root.Hash, b.Root.Hash)
}

func TestDivergingTreeReportsEarlierMinute(t *testing.T) {
	shared := New()
	other := New()

	// Both share an old entry.
	shared.Insert(ts(60_000, 1))
	other.Insert(ts(60_000, 1))

	// "shared" has an additional, more recent entry the other is missing.
	divergeAtMinute := int64(5)
	shared.Insert(ts(divergeAtMinute*60_000, 2))

	minute, diverges := Diff(shared, other)
	require.True(t, diverges)
	require.LessOrEqual(t, minute, divergeAtMinute)
}

func TestTotallyDisjointTreesReportMinuteZero(t *testing.T) {
	a, b := New(), New()
	a.Insert(ts(60_000, 1))
	b.Insert(ts(120_000, 2))

	minute, diverges := Diff(a, b)
	require.True(t, diverges)
	require.Equal(t, int64(0), minute)
}

func TestDoubleInsertTogglesTimestampOut(t *testing.T) {
	a, b := New(), New()
	tsv := ts(60_000, 1)
	a.Insert(tsv)
	b.Insert(tsv)
	b.Insert(tsv)

	// Double (even number of) insertion XORs the same hash an even number
	// of times, canceling out — b should look empty relative to a single
	// insertion into a, which is the "extremely rare duplicate re-apply"
	// edge case rather than the common path (history.go guards against
	// ever calling Insert twice for the same timestamp in the CRDT
	// engine).
	require.NotEqual(t, a.Root.Hash, b.Root.Hash)
}

func TestDiffMinuteToMillis(t *testing.T) {
	require.Equal(t, int64(300_000), DiffMinuteToMillis(5))
}
