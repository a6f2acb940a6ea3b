package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/evoluhq/evolu-go/internal/schema"
)

// Sqlite is the production Engine, backed by a pure-Go SQLite driver
// (github.com/ncruces/go-sqlite3) so the engine never requires cgo, the
// same choice the teacher makes in internal/storage/sqlite.
type Sqlite struct {
	db   *sql.DB
	path string
}

// OpenSqlite opens (creating if necessary) the database file at path.
// The connection pool is capped at one connection, matching the
// teacher's comment about modernc/ncruces's BeginTx semantics under
// concurrent access — SQLite itself serializes writers, so a larger pool
// only adds contention without adding throughput.
func OpenSqlite(path string) (*Sqlite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Sqlite{db: db, path: path}, nil
}

// Close implements Engine.
func (s *Sqlite) Close() error { return s.db.Close() }

func bindParams(params []schema.Value) []interface{} {
	out := make([]interface{}, len(params))
	for i, p := range params {
		out[i] = p.Driver()
	}
	return out
}

func scanRows(rows *sql.Rows) (ExecResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ExecResult{}, wrapErr("scan columns", err)
	}
	res := ExecResult{Columns: cols}
	scanTargets := make([]interface{}, len(cols))
	scanValues := make([]interface{}, len(cols))
	for i := range scanTargets {
		scanTargets[i] = &scanValues[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return ExecResult{}, wrapErr("scan row", err)
		}
		row := make(schema.Row, len(cols))
		for i, col := range cols {
			v, err := schema.FromDriver(scanValues[i])
			if err != nil {
				return ExecResult{}, fmt.Errorf("storage: %w", err)
			}
			row[col] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ExecResult{}, wrapErr("iterate rows", err)
	}
	return res, nil
}

func isSelect(sqlText string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(sqlText))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "PRAGMA") || strings.HasPrefix(trimmed, "WITH")
}

// Exec implements Engine, running q outside of any caller-managed
// transaction (an implicit autocommit transaction, as database/sql does
// for any call not wrapped in Begin).
func (s *Sqlite) Exec(ctx context.Context, q Query) (ExecResult, error) {
	if isSelect(q.SQL) {
		rows, err := s.db.QueryContext(ctx, q.SQL, bindParams(q.Params)...)
		if err != nil {
			return ExecResult{}, wrapErr("exec query", err)
		}
		defer rows.Close()
		return scanRows(rows)
	}
	res, err := s.db.ExecContext(ctx, q.SQL, bindParams(q.Params)...)
	if err != nil {
		return ExecResult{}, wrapErr("exec statement", err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, wrapErr("rows affected", err)
	}
	return ExecResult{Changes: changes}, nil
}

// sqlTx pairs a *sql.Tx with its mode. It has no methods and does not
// implement Tx; Begin returns a connTx.
type sqlTx struct {
	tx   *sql.Tx
	mode TxMode
	s    *Sqlite
}

// Begin implements Engine. Shared opens a deferred (read) transaction;
// Exclusive and Last open an immediate (write) transaction, matching the
// mapping documented in SPEC_FULL.md §4.9.
func (s *Sqlite) Begin(ctx context.Context, mode TxMode) (Tx, error) {
	var beginSQL string
	switch mode {
	case Shared:
		beginSQL = "BEGIN DEFERRED"
	case Exclusive, Last:
		beginSQL = "BEGIN IMMEDIATE"
	default:
		return nil, fmt.Errorf("storage: unknown tx mode %d", mode)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, wrapErr("acquire connection", err)
	}
	if _, err := conn.ExecContext(ctx, beginSQL); err != nil {
		conn.Close()
		return nil, wrapErr("begin transaction", err)
	}
	return &connTx{conn: conn, mode: mode, s: s}, nil
}

// connTx runs every statement over a single pinned *sql.Conn so BEGIN and
// COMMIT apply to the same SQLite connection-level transaction.
type connTx struct {
	conn *sql.Conn
	mode TxMode
	s    *Sqlite
	done bool
}

func (t *connTx) Exec(ctx context.Context, q Query) (ExecResult, error) {
	if isSelect(q.SQL) {
		rows, err := t.conn.QueryContext(ctx, q.SQL, bindParams(q.Params)...)
		if err != nil {
			return ExecResult{}, wrapErr("tx exec query", err)
		}
		defer rows.Close()
		return scanRows(rows)
	}
	res, err := t.conn.ExecContext(ctx, q.SQL, bindParams(q.Params)...)
	if err != nil {
		return ExecResult{}, wrapErr("tx exec statement", err)
	}
	changes, _ := res.RowsAffected()
	return ExecResult{Changes: changes}, nil
}

func (t *connTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), "COMMIT")
	closeErr := t.conn.Close()
	if err != nil {
		return wrapErr("commit", err)
	}
	if t.mode == Last {
		if err := t.s.db.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

func (t *connTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	closeErr := t.conn.Close()
	if err != nil {
		return wrapErr("rollback", err)
	}
	return closeErr
}

// Export implements Engine via SQLite's VACUUM INTO, matching
// SPEC_FULL.md §4.9's "snapshot of the database file" contract.
func (s *Sqlite) Export(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "evolu-export-*.sqlite3")
	if err != nil {
		return nil, fmt.Errorf("storage: export temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(tmpPath, "'", "''"))); err != nil {
		return nil, wrapErr("vacuum into", err)
	}
	data, err := os.ReadFile(tmpPath) // #nosec G304 - path is a freshly created temp file we own
	if err != nil {
		return nil, fmt.Errorf("storage: read export file: %w", err)
	}
	return data, nil
}

// TableInfo implements Engine via PRAGMA table_info.
func (s *Sqlite) TableInfo(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, wrapErr("table_info", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, wrapErr("scan table_info", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// IndexList implements Engine via PRAGMA index_list.
func (s *Sqlite) IndexList(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, wrapErr("index_list", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, wrapErr("scan index_list", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableNames implements Engine.
func (s *Sqlite) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, wrapErr("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr("scan table name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// quoteIdent double-quotes a SQL identifier, escaping embedded quotes.
// Table/column names come from the host's schema declaration, not raw
// end-user input, but are quoted defensively since they flow into
// unparameterizable DDL positions.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
