package crdt

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
)

const historyTable = "evolu_history"

// ensureHistoryTable creates the append-only message log keyed by
// (tableName, rowId, columnName, timestamp), per SPEC_FULL.md §4.4. The
// timestamp column stores Timestamp.Encode()'s 16-byte form, whose byte
// order matches total timestamp order, so `ORDER BY timestamp DESC`
// answers "what is the latest message for this cell" directly.
func ensureHistoryTable(ctx context.Context, tx storage.Tx) error {
	_, err := tx.Exec(ctx, storage.Query{SQL: `CREATE TABLE IF NOT EXISTS ` + historyTable + ` (
		tableName TEXT NOT NULL,
		rowId TEXT NOT NULL,
		columnName TEXT NOT NULL,
		timestamp BLOB NOT NULL,
		valueKind INTEGER NOT NULL,
		value BLOB,
		PRIMARY KEY (tableName, rowId, columnName, timestamp)
	) WITHOUT ROWID`})
	return err
}

// latestHistoryTimestamp returns the most recent timestamp recorded for
// (table, rowID, column), and whether any entry exists.
func latestHistoryTimestamp(ctx context.Context, tx storage.Tx, table, rowID, column string) ([16]byte, bool, error) {
	res, err := tx.Exec(ctx, storage.Query{
		SQL: `SELECT timestamp FROM ` + historyTable + ` WHERE tableName=? AND rowId=? AND columnName=? ORDER BY timestamp DESC LIMIT 1`,
		Params: []schema.Value{
			schema.Text(table), schema.Text(rowID), schema.Text(column),
		},
	})
	if err != nil {
		return [16]byte{}, false, err
	}
	if len(res.Rows) == 0 {
		return [16]byte{}, false, nil
	}
	var out [16]byte
	copy(out[:], res.Rows[0]["timestamp"].Blob)
	return out, true, nil
}

// insertHistory records one message and reports whether it was new.
// Re-inserting the same (table, rowID, column, timestamp) key is a no-op
// via INSERT OR IGNORE, matching insert's idempotence requirement
// (SPEC_FULL.md §4.2, §8) — callers that also maintain the Merkle tree
// must only insert a timestamp into it when this returns true, so a
// duplicate delivery can't toggle it back out.
func insertHistory(ctx context.Context, tx storage.Tx, table, rowID, column string, ts [16]byte, v schema.Value) (bool, error) {
	val, kind := encodeHistoryValue(v)
	res, err := tx.Exec(ctx, storage.Query{
		SQL: `INSERT OR IGNORE INTO ` + historyTable + ` (tableName, rowId, columnName, timestamp, valueKind, value) VALUES (?, ?, ?, ?, ?, ?)`,
		Params: []schema.Value{
			schema.Text(table), schema.Text(rowID), schema.Text(column),
			schema.Blob(ts[:]), schema.Integer(int64(kind)), val,
		},
	})
	if err != nil {
		return false, err
	}
	return res.Changes > 0, nil
}

// allHistoryTimestamps returns every timestamp ever recorded, used to
// rebuild the in-memory Merkle tree on startup (SPEC_FULL.md §5: "No
// in-memory caching of the HLC head is permitted across transactions" —
// the Merkle tree is rebuilt fresh each time storage is opened rather
// than persisted as a serialized structure).
func allHistoryTimestamps(ctx context.Context, tx storage.Tx) ([][16]byte, error) {
	res, err := tx.Exec(ctx, storage.Query{SQL: `SELECT DISTINCT timestamp FROM ` + historyTable})
	if err != nil {
		return nil, err
	}
	out := make([][16]byte, 0, len(res.Rows))
	for _, row := range res.Rows {
		var ts [16]byte
		copy(ts[:], row["timestamp"].Blob)
		out = append(out, ts)
	}
	return out, nil
}

func encodeHistoryValue(v schema.Value) (schema.Value, int) {
	switch v.Kind {
	case schema.KindInteger:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.Integer))
		return schema.Blob(buf), int(schema.KindInteger)
	case schema.KindReal:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Real))
		return schema.Blob(buf), int(schema.KindReal)
	case schema.KindText:
		return schema.Blob([]byte(v.Text)), int(schema.KindText)
	case schema.KindBlob:
		return schema.Blob(v.Blob), int(schema.KindBlob)
	default:
		return schema.Null(), int(schema.KindNull)
	}
}

// latestHistoryEntry returns the most recent recorded value and
// timestamp for (table, rowID, column), and whether any entry exists.
// Used by History for audit/debugging reads of the change log.
func latestHistoryEntry(ctx context.Context, tx storage.Tx, table, rowID, column string) (schema.Value, [16]byte, bool, error) {
	res, err := tx.Exec(ctx, storage.Query{
		SQL: `SELECT timestamp, valueKind, value FROM ` + historyTable + ` WHERE tableName=? AND rowId=? AND columnName=? ORDER BY timestamp DESC LIMIT 1`,
		Params: []schema.Value{
			schema.Text(table), schema.Text(rowID), schema.Text(column),
		},
	})
	if err != nil {
		return schema.Value{}, [16]byte{}, false, err
	}
	if len(res.Rows) == 0 {
		return schema.Value{}, [16]byte{}, false, nil
	}
	row := res.Rows[0]
	var ts [16]byte
	copy(ts[:], row["timestamp"].Blob)
	v := decodeHistoryValue(row["valueKind"].Integer, row["value"].Blob)
	return v, ts, true, nil
}

func decodeHistoryValue(kind int64, raw []byte) schema.Value {
	switch schema.ValueKind(kind) {
	case schema.KindInteger:
		return schema.Integer(int64(binary.BigEndian.Uint64(raw)))
	case schema.KindReal:
		return schema.Real(math.Float64frombits(binary.BigEndian.Uint64(raw)))
	case schema.KindText:
		return schema.Text(string(raw))
	case schema.KindBlob:
		return schema.Blob(raw)
	default:
		return schema.Null()
	}
}
