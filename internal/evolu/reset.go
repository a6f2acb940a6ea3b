package evolu

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
)

// Reset drops every table and clears the in-memory CRDT, query, and sync
// state, per spec.md §6's `reset(reload?) -> void`. The host is
// responsible for reloading (e.g. re-running Open) afterward.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.crdt.Reset(ctx); err != nil {
		return err
	}
	e.clearReactiveState()
	e.rebuildSync()
	return nil
}

// Restore resets storage and re-initializes it under the AppOwner
// derived from mnemonic, per spec.md §6. No initial data is applied; the
// caller is expected to re-sync from a remote afterward.
func (e *Engine) Restore(ctx context.Context, mnemonic string, desired schema.DbSchema, syncURLs []string) (owner.Owner, error) {
	appOwner, err := e.crdt.Restore(ctx, mnemonic, desired)
	if err != nil {
		return owner.Owner{}, err
	}
	e.clearReactiveState()
	e.rebuildSync()
	if len(syncURLs) > 0 {
		e.sync.UseOwner(appOwner, syncURLs, true)
	}
	return appOwner, nil
}

// Export serializes the underlying storage file.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	return e.crdt.Export(ctx)
}

// RotateWriteKey derives and durably persists a fresh write key for the
// current owner, then re-registers it with the sync client so in-flight
// connections authenticate future writes under the new key.
func (e *Engine) RotateWriteKey(ctx context.Context, rng clock.Rand, syncURLs []string) (owner.Owner, [16]byte, error) {
	next, previous, err := e.crdt.RotateWriteKey(ctx, rng)
	if err != nil {
		return owner.Owner{}, [16]byte{}, fmt.Errorf("evolu: rotate write key: %w", err)
	}
	if len(syncURLs) > 0 {
		e.sync.UseOwner(next, syncURLs, true)
	}
	return next, previous, nil
}

// clearReactiveState discards every subscription, cached row, and
// in-flight load: a reset or restore changes the owner identity under
// storage, so any previously cached query result is stale by definition.
func (e *Engine) clearReactiveState() {
	e.registry = query.NewRegistry()
	e.cache = query.NewCache()
	e.loader = query.NewLoader(func(ctx context.Context, q query.Query) ([]schema.Row, error) {
		return e.crdt.QueryRows(ctx, toStorageQuery(q))
	})
	e.queriesMu.Lock()
	e.queries = make(map[query.Serial]query.Query)
	e.queriesMu.Unlock()
}
