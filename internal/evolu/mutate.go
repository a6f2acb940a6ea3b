package evolu

import (
	"context"

	"github.com/evoluhq/evolu-go/internal/crdt"
	"github.com/evoluhq/evolu-go/internal/diff"
	"github.com/evoluhq/evolu-go/internal/query"
)

// Mutate applies mutations in one exclusive transaction, then re-runs
// every query in subscribed and fans out the resulting messages to the
// sync client, mirroring spec.md §6's `mutate(changes, subscribed_queries)`.
func (e *Engine) Mutate(ctx context.Context, mutations []crdt.Mutation, subscribed []query.Query) (crdt.AppliedChanges, map[query.Serial][]diff.Patch, error) {
	applied, err := e.crdt.Mutate(ctx, mutations)
	if err != nil {
		return crdt.AppliedChanges{}, nil, err
	}

	patches := e.refreshSubscribed(ctx, subscribed)
	e.pushMessages(applied.Messages)
	return applied, patches, nil
}
