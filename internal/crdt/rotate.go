package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/storage"
)

// RotateWriteKey derives and durably persists a fresh write key for the
// currently loaded owner in a single exclusive transaction, per
// SPEC_FULL.md's Supplemented Features ("rotation is a single durable
// write"). The previous key remains valid for in-flight peers only until
// this call returns; callers must propagate the new owner to the sync
// client before accepting further local writes under it.
func (e *Engine) RotateWriteKey(ctx context.Context, rng clock.Rand) (owner.Owner, [16]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, previous, err := e.owner.RotateWriteKey(rng)
	if err != nil {
		return owner.Owner{}, [16]byte{}, fmt.Errorf("crdt: rotate write key: %w", err)
	}

	tx, err := e.store.Begin(ctx, storage.Exclusive)
	if err != nil {
		return owner.Owner{}, [16]byte{}, fmt.Errorf("crdt: rotate write key begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := saveMetadata(ctx, tx, next, e.head); err != nil {
		return owner.Owner{}, [16]byte{}, err
	}
	if err := tx.Commit(); err != nil {
		return owner.Owner{}, [16]byte{}, fmt.Errorf("crdt: rotate write key commit: %w", err)
	}
	committed = true

	e.owner = next
	e.log.Info("crdt: write key rotated", "owner", e.owner.ID)
	return next, previous, nil
}
