package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
)

// QueryRows executes q inside a shared (read) transaction and returns its
// raw schema.Row result set, the shape the query-layer cache/loader diff
// against. Callers that hand rows to a host use Query instead, which also
// decodes nonce-marked JSON columns.
func (e *Engine) QueryRows(ctx context.Context, q storage.Query) ([]schema.Row, error) {
	tx, err := e.store.Begin(ctx, storage.Shared)
	if err != nil {
		return nil, fmt.Errorf("crdt: query begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("crdt: query exec: %w", err)
	}
	return res.Rows, nil
}

// Query executes q and post-processes any nonce-marked JSON column per
// SPEC_FULL.md §4.4 and §4.7.
func (e *Engine) Query(ctx context.Context, q storage.Query) ([]map[string]interface{}, error) {
	e.mu.Lock()
	nonce := e.nonce
	e.mu.Unlock()

	rows, err := e.QueryRows(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		decoded, err := query.DecodeRow(nonce, row)
		if err != nil {
			return nil, fmt.Errorf("crdt: query decode row: %w", err)
		}
		out = append(out, decoded)
	}
	return out, nil
}
