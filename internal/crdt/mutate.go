package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// Mutation pairs a validated change with the mutation kind it was
// authored as (Insert/Update/Upsert/Delete), used for validation and, for
// Delete, to add isDeleted=1 to the written columns — applying it to
// storage is always an upsert, since convergence under concurrent remote
// writes requires it (SPEC_FULL.md §4.4).
type Mutation struct {
	Kind   schema.MutationKind
	Change schema.Change
}

// Mutate applies every mutation in one exclusive transaction. A
// validation failure in any mutation voids the whole batch before any
// storage write occurs (SPEC_FULL.md §4.4: "a validation failure voids
// the whole microtask batch").
func (e *Engine) Mutate(ctx context.Context, mutations []Mutation) (AppliedChanges, error) {
	for _, m := range mutations {
		if err := schema.ValidateMutation(m.Kind, m.Change); err != nil {
			return AppliedChanges{}, fmt.Errorf("crdt: mutate validate: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return AppliedChanges{}, fmt.Errorf("crdt: mutate begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	touched := map[schema.TableName]struct{}{}
	var messages []Message
	for _, m := range mutations {
		table, applied, err := e.applyChangeLocked(ctx, tx, m.Kind, m.Change)
		if err != nil {
			return AppliedChanges{}, fmt.Errorf("crdt: mutate apply: %w", err)
		}
		touched[table] = struct{}{}
		messages = append(messages, applied...)
	}

	if err := saveMetadata(ctx, tx, e.owner, e.head); err != nil {
		return AppliedChanges{}, err
	}
	if err := tx.Commit(); err != nil {
		return AppliedChanges{}, fmt.Errorf("crdt: mutate commit: %w", err)
	}
	committed = true

	e.log.Debug("crdt: mutate committed", "changes", len(mutations), "tables", len(touched), "headMillis", e.head.Millis, "headCounter", e.head.Counter)
	return AppliedChanges{Tables: tableSlice(touched), Head: e.head, Messages: messages}, nil
}

// applyChangeLocked upserts change's row, stamps createdAt/updatedAt from
// the mutation's own HLC timestamp, and records each touched column
// (including isDeleted, for a Delete) in the history log under that same
// timestamp, returning the Messages a sync client should fan out for it.
// Callers must hold e.mu.
func (e *Engine) applyChangeLocked(ctx context.Context, tx storage.Tx, kind schema.MutationKind, change schema.Change) (schema.TableName, []Message, error) {
	if err := change.Validate(); err != nil {
		return "", nil, err
	}

	ownerID := change.OwnerID
	if ownerID == "" {
		ownerID = e.owner.ID
	}

	next, err := timestamp.Send(e.head, e.clk.NowMillis(), e.maxDrift)
	if err != nil {
		return "", nil, fmt.Errorf("crdt: advance hlc: %w", err)
	}
	nowISO := schema.Text(next.ISOString())

	values := make(map[schema.ColumnName]schema.Value, len(change.Values)+1)
	for col, val := range change.Values {
		values[col] = val
	}
	if kind == schema.Delete {
		values[schema.ColumnIsDeleted] = schema.Bool(true)
	}

	cols := []string{string(schema.ColumnOwnerID), string(schema.ColumnID), string(schema.ColumnCreatedAt), string(schema.ColumnUpdatedAt)}
	params := []schema.Value{schema.Text(ownerID), schema.Text(change.ID), nowISO, nowISO}
	// updatedAt is refreshed on every write; createdAt is intentionally
	// left out of the conflict-update list below so it keeps the value
	// from the row's first insert.
	updates := []string{quoteIdent(string(schema.ColumnUpdatedAt)) + "=excluded." + quoteIdent(string(schema.ColumnUpdatedAt))}
	for col, val := range values {
		cols = append(cols, string(col))
		params = append(params, val)
		q := quoteIdent(string(col))
		updates = append(updates, q+"=excluded."+q)
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	onConflict := fmt.Sprintf("(%s, %s)", quoteIdent(string(schema.ColumnOwnerID)), quoteIdent(string(schema.ColumnID)))
	sqlText := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT %s DO UPDATE SET %s`,
		quoteIdent(string(change.Table)), joinComma(quoteIdentAll(cols)), joinComma(placeholders), onConflict, joinComma(updates))

	if _, err := tx.Exec(ctx, storage.Query{SQL: sqlText, Params: params}); err != nil {
		return "", nil, fmt.Errorf("crdt: upsert row: %w", err)
	}

	e.head = next
	e.tree.Insert(next)
	ts := next.Encode()

	messages := make([]Message, 0, len(values))
	for col, val := range values {
		if _, err := insertHistory(ctx, tx, string(change.Table), change.ID, string(col), ts, val); err != nil {
			return "", nil, fmt.Errorf("crdt: insert history: %w", err)
		}
		messages = append(messages, Message{
			Table: change.Table, RowID: change.ID, OwnerID: ownerID,
			Column: col, Value: val, Timestamp: next,
		})
	}

	return change.Table, messages, nil
}

func tableSlice(touched map[schema.TableName]struct{}) []schema.TableName {
	out := make([]schema.TableName, 0, len(touched))
	for t := range touched {
		out = append(out, t)
	}
	return out
}
