package evolu

import (
	"context"

	"github.com/evoluhq/evolu-go/internal/diff"
	"github.com/evoluhq/evolu-go/internal/query"
)

// Subscribe registers q as a live query, returning its Serial identity.
// Call Unsubscribe with the same Serial when the host no longer needs q.
func (e *Engine) Subscribe(q query.Query) query.Serial {
	s := query.Serialize(q)
	e.registry.Subscribe(s)
	e.queriesMu.Lock()
	e.queries[s] = q
	e.queriesMu.Unlock()
	return s
}

// Unsubscribe releases one reference to s, dropping its cache entry once
// the last subscriber is gone (via the next mutation's GC pass).
func (e *Engine) Unsubscribe(s query.Serial) {
	e.registry.Unsubscribe(s)
	if !e.registry.IsSubscribed(s) {
		e.queriesMu.Lock()
		delete(e.queries, s)
		e.queriesMu.Unlock()
	}
}

// subscribedQueries returns the Query value behind every Serial the
// registry currently tracks a subscriber for.
func (e *Engine) subscribedQueries() []query.Query {
	serials := e.registry.Subscribed()
	e.queriesMu.Lock()
	defer e.queriesMu.Unlock()
	out := make([]query.Query, 0, len(serials))
	for _, s := range serials {
		if q, ok := e.queries[s]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Load returns q's current rows, coalescing concurrent callers into one
// storage read per SPEC_FULL.md §4.7's loading-promise semantics.
func (e *Engine) Load(ctx context.Context, q query.Query) (query.Result, error) {
	f := e.loader.Load(ctx, q)
	return f.Wait(ctx)
}

// refreshSubscribed re-executes every query in queries, replaces its
// cache entry, and returns the diff patches a subscriber should apply to
// move from its last-seen snapshot. Called after every committed mutate
// or receive, per spec.md §6's `mutate(changes, subscribed_queries)`
// signature — the caller passes exactly the queries currently live.
func (e *Engine) refreshSubscribed(ctx context.Context, queries []query.Query) map[query.Serial][]diff.Patch {
	out := make(map[query.Serial][]diff.Patch, len(queries))
	for _, q := range queries {
		s := query.Serialize(q)
		e.loader.Invalidate(s)
		res, err := e.Load(ctx, q)
		if err != nil || res.Status == query.StatusRejected {
			e.log.Warn("evolu: reload subscribed query failed", "error", err, "queryErr", res.Err)
			continue
		}
		out[s] = e.cache.Replace(s, res.Rows)
	}
	e.loader.GC(e.registry)
	e.cache.EvictUnsubscribed(e.registry)
	return out
}
