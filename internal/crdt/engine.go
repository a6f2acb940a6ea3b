// Package crdt is the database core of SPEC_FULL.md §4.4: init, mutate,
// receive, query, reset, restore, and export, layered over internal/storage,
// internal/schema, internal/timestamp, internal/merkle and internal/owner.
package crdt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/merkle"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

// Engine is one open local-first database: a storage handle plus the
// derived owner, HLC head, and in-memory Merkle tree that sit above it.
// Concurrent mutate/receive calls on one Engine are serialized
// internally via mu, matching SPEC_FULL.md §5's "concurrent mutations
// serialize".
type Engine struct {
	store    storage.Engine
	clk      clock.Clock
	rng      clock.Rand
	maxDrift int64
	log      *slog.Logger

	mu     sync.Mutex
	owner  owner.Owner
	head   timestamp.Timestamp
	tree   *merkle.Tree
	nonce  []byte
	schema schema.DbSchema
}

// AppliedChanges reports what a mutate or receive call actually touched,
// so a caller (the Evolu facade) knows which subscribed queries might
// need re-evaluation and which messages to fan out to the sync client.
type AppliedChanges struct {
	Tables   []schema.TableName
	Head     timestamp.Timestamp
	Messages []Message
}

// New constructs an Engine over an already-open storage.Engine. Call
// Init before any other operation.
func New(store storage.Engine, clk clock.Clock, rng clock.Rand, maxDrift int64) *Engine {
	return &Engine{store: store, clk: clk, rng: rng, maxDrift: maxDrift, log: slog.Default()}
}

// WithLogger overrides the Engine's structured logger, returning e for
// chaining at construction time.
func (e *Engine) WithLogger(log *slog.Logger) *Engine {
	e.log = log
	return e
}

// Init is idempotent: if storage is empty it creates a fresh AppOwner
// and applies initialData; if storage already has a metadata row it
// reads the existing owner and reconciles desired against the
// introspected schema. Either way the in-memory Merkle tree is rebuilt
// from the history log.
func (e *Engine) Init(ctx context.Context, desired schema.DbSchema, initialData []schema.Change) (owner.Owner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := ensureMetadataTable(ctx, tx); err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init metadata table: %w", err)
	}
	if err := ensureHistoryTable(ctx, tx); err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init history table: %w", err)
	}

	existingOwner, head, found, err := loadMetadata(ctx, tx)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init load metadata: %w", err)
	}

	if !found {
		appOwner, _, err := owner.NewAppOwner(e.rng)
		if err != nil {
			return owner.Owner{}, fmt.Errorf("crdt: init create owner: %w", err)
		}
		head, err = timestamp.Initial(e.clk.NowMillis(), e.rng)
		if err != nil {
			return owner.Owner{}, fmt.Errorf("crdt: init timestamp: %w", err)
		}
		existingOwner = appOwner
		if err := saveMetadata(ctx, tx, existingOwner, head); err != nil {
			return owner.Owner{}, err
		}
	}

	if err := reconcileSchema(ctx, tx, desired); err != nil {
		return owner.Owner{}, err
	}

	nonce, err := query.NewNonce(e.rng)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init nonce: %w", err)
	}

	tree := merkle.New()
	timestamps, err := allHistoryTimestamps(ctx, tx)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init rebuild merkle: %w", err)
	}
	for _, raw := range timestamps {
		tree.Insert(timestamp.Decode(raw))
	}

	e.owner = existingOwner
	e.head = head
	e.tree = tree
	e.nonce = nonce
	e.schema = desired

	if !found {
		for _, change := range initialData {
			if _, _, err := e.applyChangeLocked(ctx, tx, schema.Insert, change); err != nil {
				return owner.Owner{}, fmt.Errorf("crdt: init apply initial data: %w", err)
			}
		}
		if err := saveMetadata(ctx, tx, e.owner, e.head); err != nil {
			return owner.Owner{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return owner.Owner{}, fmt.Errorf("crdt: init commit: %w", err)
	}
	committed = true

	e.log.Info("crdt: initialized", "owner", e.owner.ID, "kind", e.owner.Kind.String(), "fresh", !found)
	return e.owner, nil
}

// Owner returns the currently loaded owner. Init must have been called.
func (e *Engine) Owner() owner.Owner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Nonce returns the session's JSON-decode marker, for callers building
// queries that prefix JSON output (for example json_group_array) with it
// so query.DecodeRow decodes those columns.
func (e *Engine) Nonce() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonce
}
