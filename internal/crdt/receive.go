package crdt

import (
	"context"
	"fmt"
	"sort"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// Message is one synced cell update, the unit internal/protocol decodes
// off the wire.
type Message struct {
	Table     schema.TableName
	RowID     string
	OwnerID   string
	Column    schema.ColumnName
	Value     schema.Value
	Timestamp timestamp.Timestamp
}

// Receive applies messages in ascending timestamp order: a cell is
// updated only if no history entry already carries a timestamp at least
// as recent, so the last writer by total HLC order always wins
// regardless of arrival order. Every message is recorded into history
// (a duplicate delivery is a no-op there), and only a message whose
// history row is newly added is merged into the Merkle tree — otherwise
// a re-send of an already-seen message would toggle its timestamp back
// out of the tree. Every message's timestamp is still merged into the
// local HLC regardless, per SPEC_FULL.md §4.4.
func (e *Engine) Receive(ctx context.Context, messages []Message) (AppliedChanges, error) {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		return timestamp.Compare(sorted[i].Timestamp, sorted[j].Timestamp) < 0
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return AppliedChanges{}, fmt.Errorf("crdt: receive begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	touched := map[schema.TableName]struct{}{}
	var accepted []Message
	for _, msg := range sorted {
		ts := msg.Timestamp.Encode()

		latest, found, err := latestHistoryTimestamp(ctx, tx, string(msg.Table), msg.RowID, string(msg.Column))
		if err != nil {
			return AppliedChanges{}, fmt.Errorf("crdt: receive lookup history: %w", err)
		}

		isNew, err := insertHistory(ctx, tx, string(msg.Table), msg.RowID, string(msg.Column), ts, msg.Value)
		if err != nil {
			return AppliedChanges{}, fmt.Errorf("crdt: receive insert history: %w", err)
		}

		if isNew && (!found || compareEncoded(latest, ts) < 0) {
			ownerID := msg.OwnerID
			if ownerID == "" {
				ownerID = e.owner.ID
			}
			if err := e.applyColumnLocked(ctx, tx, msg.Table, msg.RowID, ownerID, msg.Column, msg.Value); err != nil {
				return AppliedChanges{}, fmt.Errorf("crdt: receive apply: %w", err)
			}
			touched[msg.Table] = struct{}{}
			accepted = append(accepted, msg)
		}

		next, err := timestamp.Receive(e.head, msg.Timestamp, e.clk.NowMillis(), e.maxDrift)
		if err != nil {
			return AppliedChanges{}, fmt.Errorf("crdt: receive merge hlc: %w", err)
		}
		e.head = next
		if isNew {
			e.tree.Insert(msg.Timestamp)
		}
	}

	if err := saveMetadata(ctx, tx, e.owner, e.head); err != nil {
		return AppliedChanges{}, err
	}
	if err := tx.Commit(); err != nil {
		return AppliedChanges{}, fmt.Errorf("crdt: receive commit: %w", err)
	}
	committed = true

	e.log.Debug("crdt: receive committed", "messages", len(messages), "tables", len(touched), "headMillis", e.head.Millis, "headCounter", e.head.Counter)
	return AppliedChanges{Tables: tableSlice(touched), Head: e.head, Messages: accepted}, nil
}

// applyColumnLocked upserts a single column value for (table, rowID),
// creating the row if absent. Callers must hold e.mu.
func (e *Engine) applyColumnLocked(ctx context.Context, tx storage.Tx, table schema.TableName, rowID, ownerID string, col schema.ColumnName, val schema.Value) error {
	ownerCol := quoteIdent(string(schema.ColumnOwnerID))
	idCol := quoteIdent(string(schema.ColumnID))
	valCol := quoteIdent(string(col))

	sqlText := fmt.Sprintf(
		`INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?) ON CONFLICT (%s, %s) DO UPDATE SET %s=excluded.%s`,
		quoteIdent(string(table)), ownerCol, idCol, valCol, ownerCol, idCol, valCol, valCol,
	)
	_, err := tx.Exec(ctx, storage.Query{SQL: sqlText, Params: []schema.Value{schema.Text(ownerID), schema.Text(rowID), val}})
	return err
}

// compareEncoded lexicographically compares two Timestamp.Encode()
// outputs, which is equivalent to timestamp.Compare on the decoded
// values (SPEC_FULL.md §3's canonical encoding is order-preserving).
func compareEncoded(a, b [16]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
