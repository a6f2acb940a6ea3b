// Package storage adapts a relational store to the minimal contract
// SPEC_FULL.md §6 requires of it: exec, transaction, export. spec.md §1
// treats the relational store as an external collaborator ("assumed to
// provide transactional execution of parameterized SQL, metadata
// introspection, and export-to-bytes"); this package supplies the one
// concrete adapter SPEC_FULL.md §4.9 adds, over github.com/ncruces/go-sqlite3.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/schema"
)

// TxMode selects the locking mode of a Transaction, per SPEC_FULL.md §6.
type TxMode int

const (
	// Shared is a read-only transaction; concurrent Shared transactions
	// do not block one another.
	Shared TxMode = iota
	// Exclusive serializes against every other transaction.
	Exclusive
	// Last behaves like Exclusive but signals this is the final
	// transaction before engine shutdown, so the adapter may close the
	// underlying connection pool once it commits.
	Last
)

// ExecResult mirrors database/sql's Result plus the returned rows for
// SELECT-shaped queries, matching SPEC_FULL.md §6's
// `exec(query) -> Result<{rows, changes}, SqliteError>` contract.
type ExecResult struct {
	Rows    []schema.Row
	Columns []string
	Changes int64
}

// Query is a compiled parameterized SQL statement. The core never builds
// SQL strings dynamically from user input beyond bind parameters — query
// construction is the query-builder's job, out of scope per spec.md §1.
type Query struct {
	SQL    string
	Params []schema.Value
}

// Engine is the contract the CRDT engine and schema reconciliation
// depend on. Sqlite (below) is the only production implementation; tests
// may substitute an in-memory fake.
type Engine interface {
	Exec(ctx context.Context, q Query) (ExecResult, error)
	Begin(ctx context.Context, mode TxMode) (Tx, error)
	Export(ctx context.Context) ([]byte, error)
	// TableInfo returns the introspected column names of table, or nil
	// if the table does not exist.
	TableInfo(ctx context.Context, table string) ([]string, error)
	// IndexList returns the names of every index on table.
	IndexList(ctx context.Context, table string) ([]string, error)
	// TableNames lists every table currently in the database except
	// SQLite's internal sqlite_ tables; the engine's evolu_ metadata and
	// history tables are included.
	TableNames(ctx context.Context) ([]string, error)
	Close() error
}

// Tx is a scoped transaction handle: every Exec call within it runs on one
// pinned connection inside one SQLite transaction, committed on Commit and
// rolled back on Rollback. A handle discarded without either call keeps
// its connection and its open transaction.
type Tx interface {
	Exec(ctx context.Context, q Query) (ExecResult, error)
	Commit() error
	Rollback() error
}

// ErrNotFound indicates a lookup found no matching row; mirrors the
// teacher's internal/storage/sqlite/errors.go ErrNotFound sentinel.
var ErrNotFound = fmt.Errorf("storage: not found")

// wrapErr normalizes sql.ErrNoRows into ErrNotFound, the same shape as
// the teacher's wrapDBError.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
