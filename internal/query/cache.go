package query

import (
	"sync"

	"github.com/evoluhq/evolu-go/internal/diff"
	"github.com/evoluhq/evolu-go/internal/schema"
)

// Cache is the per-query row cache of SPEC_FULL.md §4.7: Map<QuerySerial,
// Rows>, replaced wholesale on every mutation with diff patches computed
// against the prior snapshot.
type Cache struct {
	mu   sync.Mutex
	rows map[Serial][]schema.Row
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{rows: make(map[Serial][]schema.Row)}
}

// Get returns the cached rows for s, if any.
func (c *Cache) Get(s Serial) ([]schema.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.rows[s]
	return rows, ok
}

// Replace installs next as s's new snapshot and returns the patches
// needed to move a subscriber's view from the prior snapshot to next.
func (c *Cache) Replace(s Serial, next []schema.Row) []diff.Patch {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.rows[s]
	var patches []diff.Patch
	if ok {
		patches = diff.MakePatches(prev, next)
	} else {
		patches = diff.MakePatches(nil, next)
	}
	c.rows[s] = next
	return patches
}

// Evict drops s's cache entry.
func (c *Cache) Evict(s Serial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, s)
}

// EvictUnsubscribed drops every cache entry registry no longer tracks a
// subscriber for — the `releaseUnsubscribed` pass run on every mutation.
func (c *Cache) EvictUnsubscribed(registry *Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.rows {
		if !registry.IsSubscribed(s) {
			delete(c.rows, s)
		}
	}
}
