// Package evolu is the public API assembly of SPEC_FULL.md §4.10 (and
// §2's "Evolu facade" row): subscribe/load/mutate/export/restore as one
// composition root over internal/crdt, internal/query, internal/syncclient
// and internal/protocol — the role internal/beads plays for cmd/bd in the
// teacher, generalized to this engine's components.
package evolu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/crdt"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/protocol"
	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/syncclient"
)

// Options configures a newly opened Engine. Every field has a spec.md §6
// default except StoragePath and Schema, which the host must supply.
type Options struct {
	// StoragePath is the SQLite file path (or ":memory:") to open.
	StoragePath string
	// Schema is the desired application schema, reconciled against
	// storage on Open.
	Schema schema.DbSchema
	// InitialData is applied once, only if storage was empty at Open.
	InitialData []schema.Change
	// SyncURLs is the default transport URL set the app owner connects
	// to. Empty disables sync entirely.
	SyncURLs []string
	// MaxDrift bounds accepted HLC clock skew; zero uses timestamp's own
	// default.
	MaxDrift time.Duration
	// DisposalDelay is the sync client's owner/connection disposal grace
	// period; zero uses syncclient.DefaultDisposalDelay.
	DisposalDelay time.Duration
	// Log receives the engine's structured log output; nil uses
	// slog.Default().
	Log *slog.Logger
	// Dialer overrides the sync client's transport dialer, for tests.
	Dialer syncclient.Dialer
	// ReloadURL, if set, is POSTed to whenever the storage file changes on
	// disk without going through this Engine (e.g. a sibling process
	// restoring an exported snapshot into place). Mirrors spec.md §6's
	// `reloadUrl` host-integration hook.
	ReloadURL string
}

// Engine is one open local-first database plus its sync connection and
// reactive query machinery — the facade a host program drives.
type Engine struct {
	log   *slog.Logger
	store storage.Engine
	crdt  *crdt.Engine

	registry *query.Registry
	cache    *query.Cache
	loader   *query.Loader

	queriesMu sync.Mutex
	queries   map[query.Serial]query.Query

	sync     *syncclient.Client
	syncDeps syncclient.Deps

	errCh chan error

	usageMu sync.Mutex
	usage   map[string]*protocol.UsageStats

	storagePath string
	reloadURL   string
	reloadCh    chan struct{}
	watchCancel context.CancelFunc
}

// Open opens or creates the storage file at opts.StoragePath, reconciles
// it against opts.Schema, and wires up the query and sync layers. The
// returned Engine owns the storage handle; call Close to release it.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.OpenSqlite(opts.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("evolu: open storage: %w", err)
	}

	maxDrift := opts.MaxDrift
	if maxDrift <= 0 {
		maxDrift = 5 * time.Minute
	}

	core := crdt.New(store, clock.System{}, clock.CryptoRand{}, maxDrift.Milliseconds()).WithLogger(log)
	if _, err := core.Init(ctx, opts.Schema, opts.InitialData); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("evolu: init: %w", err)
	}

	e := &Engine{
		log:         log,
		store:       store,
		crdt:        core,
		registry:    query.NewRegistry(),
		cache:       query.NewCache(),
		queries:     make(map[query.Serial]query.Query),
		errCh:       make(chan error, 16),
		usage:       make(map[string]*protocol.UsageStats),
		storagePath: opts.StoragePath,
		reloadURL:   opts.ReloadURL,
		reloadCh:    make(chan struct{}, 1),
	}
	e.loader = query.NewLoader(func(ctx context.Context, q query.Query) ([]schema.Row, error) {
		return e.crdt.QueryRows(ctx, toStorageQuery(q))
	})

	e.syncDeps = syncclient.Deps{Dialer: opts.Dialer, DisposalDelay: opts.DisposalDelay, Log: log}
	e.sync = syncclient.New(e, e.syncDeps)

	if len(opts.SyncURLs) > 0 {
		e.sync.UseOwner(core.Owner(), opts.SyncURLs, true)
	}

	e.startStorageWatch()

	return e, nil
}

// rebuildSync disposes the current sync client and replaces it with a fresh
// one under the same deps. A disposed Client ignores further UseOwner calls,
// so Reset/Restore need a new instance rather than reusing the old one.
func (e *Engine) rebuildSync() {
	e.sync.Dispose()
	e.sync = syncclient.New(e, e.syncDeps)
}

// Close disposes the sync client, stops the storage watcher, and closes
// the storage handle.
func (e *Engine) Close() error {
	e.stopStorageWatch()
	e.sync.Dispose()
	return e.store.Close()
}

// Owner returns the engine's currently loaded owner.
func (e *Engine) Owner() owner.Owner { return e.crdt.Owner() }

// Errors returns the engine's error-subscription channel, per spec.md
// §6's "single error-subscription channel that emits the kinds listed
// in §7". Frame-parse, decrypt, version-mismatch and storage failures
// while applying received sync frames are reported here; failures of
// locally called operations are returned directly from those operations.
func (e *Engine) Errors() <-chan error { return e.errCh }

func (e *Engine) reportError(err error) {
	select {
	case e.errCh <- err:
	default:
		e.log.Warn("evolu: error channel full, dropping", "error", err)
	}
}

func (e *Engine) usageFor(ownerID string) *protocol.UsageStats {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	u, ok := e.usage[ownerID]
	if !ok {
		u = &protocol.UsageStats{}
		e.usage[ownerID] = u
	}
	return u
}

// UsageStats returns a snapshot of ownerID's accumulated usage counters.
func (e *Engine) UsageStats(ownerID string) protocol.UsageStats {
	return *e.usageFor(ownerID)
}

func toStorageQuery(q query.Query) storage.Query {
	return storage.Query{SQL: q.SQL, Params: q.Params}
}
