package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
)

// reconcileSchema compares desired against what tx can introspect and
// issues the minimal DDL to converge, per SPEC_FULL.md §4.4: missing
// tables are created with the standard system columns and a
// (ownerId, id) primary key, without rowid; missing columns are added;
// indexes absent from the desired set are dropped, new ones created.
// User-created indexes prefixed `evolu_` are left alone.
func reconcileSchema(ctx context.Context, tx storage.Tx, desired schema.DbSchema) error {
	existingTables, err := introspectTables(ctx, tx)
	if err != nil {
		return fmt.Errorf("crdt: introspect tables: %w", err)
	}

	for _, table := range desired.SortedTableNames() {
		cols, ok := existingTables[table]
		if !ok {
			if err := createTable(ctx, tx, table, desired.SortedColumnNames(table)); err != nil {
				return fmt.Errorf("crdt: create table %s: %w", table, err)
			}
			continue
		}
		for _, col := range desired.SortedColumnNames(table) {
			if _, have := cols[col]; have {
				continue
			}
			if err := addColumn(ctx, tx, table, col); err != nil {
				return fmt.Errorf("crdt: add column %s.%s: %w", table, col, err)
			}
		}
	}

	for _, idx := range desired.Indexes {
		if err := reconcileIndex(ctx, tx, idx); err != nil {
			return fmt.Errorf("crdt: reconcile index %s: %w", idx.Name, err)
		}
	}

	desiredNames := make(map[string]struct{}, len(desired.Indexes))
	for _, idx := range desired.Indexes {
		desiredNames[idx.Name] = struct{}{}
	}
	for table := range existingTables {
		if err := dropStaleIndexes(ctx, tx, table, desiredNames); err != nil {
			return fmt.Errorf("crdt: drop stale indexes on %s: %w", table, err)
		}
	}
	for _, table := range desired.SortedTableNames() {
		if _, already := existingTables[table]; already {
			continue
		}
		if err := dropStaleIndexes(ctx, tx, table, desiredNames); err != nil {
			return fmt.Errorf("crdt: drop stale indexes on %s: %w", table, err)
		}
	}

	return nil
}

func introspectTables(ctx context.Context, tx storage.Tx) (map[string]map[string]struct{}, error) {
	res, err := tx.Exec(ctx, storage.Query{
		SQL: `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'evolu_%'`,
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]struct{}, len(res.Rows))
	for _, row := range res.Rows {
		table := row["name"].Text
		cols, err := introspectColumns(ctx, tx, table)
		if err != nil {
			return nil, err
		}
		out[table] = cols
	}
	return out, nil
}

func introspectColumns(ctx context.Context, tx storage.Tx, table string) (map[string]struct{}, error) {
	res, err := tx.Exec(ctx, storage.Query{SQL: `PRAGMA table_info(` + quoteIdent(table) + `)`})
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(res.Rows))
	for _, row := range res.Rows {
		out[row["name"].Text] = struct{}{}
	}
	return out, nil
}

func introspectIndexNames(ctx context.Context, tx storage.Tx, table string) (map[string]struct{}, error) {
	res, err := tx.Exec(ctx, storage.Query{SQL: `PRAGMA index_list(` + quoteIdent(table) + `)`})
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(res.Rows))
	for _, row := range res.Rows {
		out[row["name"].Text] = struct{}{}
	}
	return out, nil
}

func createTable(ctx context.Context, tx storage.Tx, table string, columns []string) error {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, quoteIdent(c)+" ANY")
	}
	sql := fmt.Sprintf(
		`CREATE TABLE %s (%s, PRIMARY KEY (%s, %s)) WITHOUT ROWID, STRICT`,
		quoteIdent(table),
		joinComma(cols),
		quoteIdent(string(schema.ColumnOwnerID)), quoteIdent(string(schema.ColumnID)),
	)
	_, err := tx.Exec(ctx, storage.Query{SQL: sql})
	return err
}

func addColumn(ctx context.Context, tx storage.Tx, table, column string) error {
	_, err := tx.Exec(ctx, storage.Query{
		SQL: fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s ANY`, quoteIdent(table), quoteIdent(column)),
	})
	return err
}

func reconcileIndex(ctx context.Context, tx storage.Tx, idx schema.Index) error {
	res, err := tx.Exec(ctx, storage.Query{
		SQL:    `SELECT name FROM sqlite_master WHERE type='index' AND name=?`,
		Params: []schema.Value{schema.Text(idx.Name)},
	})
	if err != nil {
		return err
	}
	if len(res.Rows) > 0 {
		return nil
	}
	_, err = tx.Exec(ctx, storage.Query{SQL: idx.SQL})
	return err
}

// dropStaleIndexes removes every non-evolu_-prefixed index on table that
// is absent from desired.
func dropStaleIndexes(ctx context.Context, tx storage.Tx, table string, desired map[string]struct{}) error {
	existing, err := introspectIndexNames(ctx, tx, table)
	if err != nil {
		return err
	}
	for name := range existing {
		if schema.IsEngineIndex(name) {
			continue
		}
		if _, keep := desired[name]; keep {
			continue
		}
		if _, err := tx.Exec(ctx, storage.Query{SQL: `DROP INDEX ` + quoteIdent(name)}); err != nil {
			return err
		}
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func quoteIdentAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func quoteIdent(ident string) string {
	out := make([]byte, 0, len(ident)+2)
	out = append(out, '"')
	for i := 0; i < len(ident); i++ {
		if ident[i] == '"' {
			out = append(out, '"', '"')
		} else {
			out = append(out, ident[i])
		}
	}
	out = append(out, '"')
	return string(out)
}
