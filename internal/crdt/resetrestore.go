package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/merkle"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// Reset drops every table, including the engine's own metadata and
// history tables, and clears all in-memory state. The caller (the Evolu
// facade) is responsible for signaling the host to reload, per
// SPEC_FULL.md §4.4's "reset(reload?) -> void".
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return fmt.Errorf("crdt: reset begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	names, err := allTableNames(ctx, tx)
	if err != nil {
		return fmt.Errorf("crdt: reset list tables: %w", err)
	}
	for _, name := range names {
		if _, err := tx.Exec(ctx, storage.Query{SQL: `DROP TABLE ` + quoteIdent(name)}); err != nil {
			return fmt.Errorf("crdt: reset drop %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("crdt: reset commit: %w", err)
	}
	committed = true

	e.owner = owner.Owner{}
	e.head = timestamp.Timestamp{}
	e.tree = merkle.New()
	e.nonce = nil
	e.schema = schema.DbSchema{}
	e.log.Warn("crdt: reset", "tablesDropped", len(names))
	return nil
}

// Restore resets storage, then re-initializes it under the AppOwner
// derived from mnemonic, per SPEC_FULL.md §4.4. No initial data is
// applied; the caller is expected to re-sync from a remote afterward.
func (e *Engine) Restore(ctx context.Context, mnemonic string, desired schema.DbSchema) (owner.Owner, error) {
	if err := e.Reset(ctx); err != nil {
		return owner.Owner{}, err
	}

	appOwner, _, err := owner.AppOwnerFromMnemonic(mnemonic)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: restore mnemonic: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: restore begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := ensureMetadataTable(ctx, tx); err != nil {
		return owner.Owner{}, err
	}
	if err := ensureHistoryTable(ctx, tx); err != nil {
		return owner.Owner{}, err
	}
	if err := reconcileSchema(ctx, tx, desired); err != nil {
		return owner.Owner{}, err
	}

	head, err := timestamp.Initial(e.clk.NowMillis(), e.rng)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: restore timestamp: %w", err)
	}
	if err := saveMetadata(ctx, tx, appOwner, head); err != nil {
		return owner.Owner{}, err
	}

	if err := tx.Commit(); err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: restore commit: %w", err)
	}
	committed = true

	nonce, err := query.NewNonce(e.rng)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: restore nonce: %w", err)
	}

	e.owner = appOwner
	e.head = head
	e.tree = merkle.New()
	e.nonce = nonce
	e.schema = desired

	e.log.Info("crdt: restored", "owner", e.owner.ID, "kind", e.owner.Kind.String())
	return appOwner, nil
}

// Export serializes the underlying storage file.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	return e.store.Export(ctx)
}

func allTableNames(ctx context.Context, tx storage.Tx) ([]string, error) {
	res, err := tx.Exec(ctx, storage.Query{SQL: `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, row["name"].Text)
	}
	return out, nil
}
