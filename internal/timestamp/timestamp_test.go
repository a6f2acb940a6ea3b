package timestamp

import (
	"testing"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/xresult"
	"github.com/stretchr/testify/require"
)

func mustInitial(t *testing.T, millis int64, seed uint64) Timestamp {
	t.Helper()
	ts, err := Initial(millis, clock.NewDeterministicRand(seed))
	require.NoError(t, err)
	return ts
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := mustInitial(t, 1_700_000_000_000, 1)
	ts.Counter = 42

	decoded := Decode(ts.Encode())
	require.Equal(t, ts, decoded)
}

func TestCompareMatchesByteOrder(t *testing.T) {
	a := mustInitial(t, 100, 1)
	a.Counter = 5
	b := mustInitial(t, 100, 2)
	b.Counter = 5

	got := Compare(a, b)
	ea, eb := a.Encode(), b.Encode()
	var wantByteCmp int
	for i := range ea {
		if ea[i] != eb[i] {
			if ea[i] < eb[i] {
				wantByteCmp = -1
			} else {
				wantByteCmp = 1
			}
			break
		}
	}
	require.Equal(t, wantByteCmp, got)
}

func TestCompareOrdersByMillisThenCounterThenNode(t *testing.T) {
	low := Timestamp{Millis: 100, Counter: 0}
	high := Timestamp{Millis: 200, Counter: 0}
	require.Equal(t, -1, Compare(low, high))
	require.Equal(t, 1, Compare(high, low))
	require.Equal(t, 0, Compare(low, low))

	a := Timestamp{Millis: 100, Counter: 1}
	b := Timestamp{Millis: 100, Counter: 2}
	require.Equal(t, -1, Compare(a, b))
}

func TestSendAdvancesMillisAndResetsCounter(t *testing.T) {
	local := mustInitial(t, 1000, 1)
	local.Counter = 7

	next, err := Send(local, 2000, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(2000), next.Millis)
	require.Equal(t, uint16(0), next.Counter)
}

func TestSendIncrementsCounterWhenClockDoesNotAdvance(t *testing.T) {
	local := mustInitial(t, 2000, 1)
	local.Counter = 7

	next, err := Send(local, 1000, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(2000), next.Millis)
	require.Equal(t, uint16(8), next.Counter)
}

func TestSendRejectsCounterOverflow(t *testing.T) {
	local := mustInitial(t, 2000, 1)
	local.Counter = MaxCounter

	_, err := Send(local, 1000, DefaultMaxDrift)
	require.ErrorIs(t, err, xresult.ErrTimestampCounterOverflow)
}

func TestSendRejectsExcessiveDrift(t *testing.T) {
	local := mustInitial(t, 10_000_000, 1)

	_, err := Send(local, 0, DefaultMaxDrift)
	require.ErrorIs(t, err, xresult.ErrTimestampDrift)
}

func TestSendRejectsOutOfRangeMillis(t *testing.T) {
	local := mustInitial(t, MaxMillis+100, 1)

	_, err := Send(local, MaxMillis+100, DefaultMaxDrift)
	require.ErrorIs(t, err, xresult.ErrTimestampOutOfRange)
}

func TestReceiveMergesHigherOfLocalRemoteAndNow(t *testing.T) {
	local := mustInitial(t, 1000, 1)
	remote := mustInitial(t, 5000, 2)

	next, err := Receive(local, remote, 0, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(5000), next.Millis)
	require.Equal(t, uint16(1), next.Counter)
	require.Equal(t, local.NodeID, next.NodeID, "Receive preserves the local node identity")
}

func TestReceiveTiesBumpPastBothCounters(t *testing.T) {
	local := mustInitial(t, 1000, 1)
	local.Counter = 3
	remote := mustInitial(t, 1000, 2)
	remote.Counter = 9

	next, err := Receive(local, remote, 0, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(1000), next.Millis)
	require.Equal(t, uint16(10), next.Counter)
}

func TestReceiveWhenOnlyLocalWins(t *testing.T) {
	local := mustInitial(t, 2000, 1)
	local.Counter = 4
	remote := mustInitial(t, 1000, 2)

	next, err := Receive(local, remote, 0, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(2000), next.Millis)
	require.Equal(t, uint16(5), next.Counter)
}

func TestReceiveWhenOnlyRemoteWins(t *testing.T) {
	local := mustInitial(t, 1000, 1)
	remote := mustInitial(t, 2000, 2)
	remote.Counter = 4

	next, err := Receive(local, remote, 0, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(2000), next.Millis)
	require.Equal(t, uint16(5), next.Counter)
}

func TestReceiveWhenNowWinsResetsCounter(t *testing.T) {
	local := mustInitial(t, 1000, 1)
	remote := mustInitial(t, 1000, 2)

	next, err := Receive(local, remote, 5000, DefaultMaxDrift)
	require.NoError(t, err)
	require.Equal(t, int64(5000), next.Millis)
	require.Equal(t, uint16(0), next.Counter)
}

func TestReceiveRejectsExcessiveDrift(t *testing.T) {
	local := mustInitial(t, 0, 1)
	remote := mustInitial(t, 10_000_000, 2)

	_, err := Receive(local, remote, 0, DefaultMaxDrift)
	require.ErrorIs(t, err, xresult.ErrTimestampDrift)
}

func TestConcurrentSendsFromDistinctNodesAreTotallyOrdered(t *testing.T) {
	// Scenario 3 from SPEC_FULL.md §8: two replicas each mint a timestamp
	// at the same physical millis; the total order must still separate
	// them deterministically by nodeId.
	a := mustInitial(t, 100, 1)
	b := mustInitial(t, 100, 2)

	require.NotEqual(t, 0, Compare(a, b))
	if Compare(a, b) < 0 {
		require.True(t, a.NodeID.String() < b.NodeID.String())
	} else {
		require.True(t, b.NodeID.String() < a.NodeID.String())
	}
}
