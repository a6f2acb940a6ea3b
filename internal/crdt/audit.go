package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// History returns the most recently recorded value and timestamp for a
// single cell, reading the append-only change log directly. Useful for
// conflict debugging and for a CLI inspection command
// (SPEC_FULL.md §4.10), distinct from querying the table's current
// projected state.
func (e *Engine) History(ctx context.Context, table schema.TableName, rowID string, column schema.ColumnName) (schema.Value, timestamp.Timestamp, bool, error) {
	tx, err := e.store.Begin(ctx, storage.Shared)
	if err != nil {
		return schema.Value{}, timestamp.Timestamp{}, false, fmt.Errorf("crdt: history begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, ts, found, err := latestHistoryEntry(ctx, tx, string(table), rowID, string(column))
	if err != nil || !found {
		return schema.Value{}, timestamp.Timestamp{}, found, err
	}
	return v, timestamp.Decode(ts), true, nil
}
