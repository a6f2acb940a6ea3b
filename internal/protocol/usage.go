package protocol

import "github.com/evoluhq/evolu-go/internal/timestamp"

// UsageStats is the per-owner quota-tracking accumulator of SPEC_FULL.md
// §4.8: storedBytes/receivedBytes/sentBytes plus the first and last
// timestamp ever observed. spec.md §9 leaves the update moment open;
// SPEC_FULL's Supplemented Features pick aggregation at encode (sender)
// and decode (receiver) time via RecordSent/RecordReceived, with
// RecordStored for bytes written to local storage. Every call adds to the
// running totals, so recording the same frame twice counts it twice.
type UsageStats struct {
	StoredBytes    int64
	ReceivedBytes  int64
	SentBytes      int64
	FirstTimestamp timestamp.Timestamp
	LastTimestamp  timestamp.Timestamp

	observed bool
}

// RecordSent folds in an outbound frame of n bytes whose changes are
// timestamped up to ts.
func (u *UsageStats) RecordSent(n int, ts timestamp.Timestamp) {
	u.SentBytes += int64(n)
	u.observe(ts)
}

// RecordReceived folds in an inbound frame of n bytes whose changes are
// timestamped up to ts.
func (u *UsageStats) RecordReceived(n int, ts timestamp.Timestamp) {
	u.ReceivedBytes += int64(n)
	u.observe(ts)
}

// RecordStored folds in a durable write of n bytes into local storage,
// independent of any timestamp.
func (u *UsageStats) RecordStored(n int64) {
	u.StoredBytes += n
}

func (u *UsageStats) observe(ts timestamp.Timestamp) {
	if !u.observed {
		u.FirstTimestamp = ts
		u.LastTimestamp = ts
		u.observed = true
		return
	}
	if timestamp.Compare(ts, u.FirstTimestamp) < 0 {
		u.FirstTimestamp = ts
	}
	if timestamp.Compare(ts, u.LastTimestamp) > 0 {
		u.LastTimestamp = ts
	}
}
