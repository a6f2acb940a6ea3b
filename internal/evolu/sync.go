package evolu

import (
	"context"
	"errors"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/crdt"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/protocol"
	"github.com/evoluhq/evolu-go/internal/syncclient"
	"github.com/evoluhq/evolu-go/internal/xresult"
)

// UseOwner registers (or releases) an owner with the sync client,
// wiring the owner/connection refcounting spec.md §6's `useOwner`
// describes. Shard and shared owners beyond the default app owner use
// this directly; Open already calls it once for the app owner.
func (e *Engine) UseOwner(o owner.Owner, urls []string, acquire bool) {
	e.sync.UseOwner(o, urls, acquire)
}

// OnOpen implements syncclient.Handler. A freshly dialed connection has
// nothing to push on its own; outbound frames flow from pushMessages as
// local mutations commit.
func (e *Engine) OnOpen(ctx context.Context, url string, ownerIDs []string, send syncclient.SendFunc) {
	e.log.Debug("evolu: sync connection open", "url", url, "owners", len(ownerIDs))
}

// OnMessage implements syncclient.Handler: it resolves the frame's owner
// without decrypting (PeekOwnerID), decodes and authenticates it under
// that owner's key, and applies the carried changes to the CRDT engine.
func (e *Engine) OnMessage(ctx context.Context, url string, data []byte, send syncclient.SendFunc, getOwner func(id string) (owner.Owner, bool)) {
	ownerIDBytes, err := protocol.PeekOwnerID(data)
	if err != nil {
		e.reportError(fmt.Errorf("%w: %v", xresult.ErrProtocol, err))
		return
	}

	ownerID := owner.EncodeID(ownerIDBytes)
	o, ok := getOwner(ownerID)
	if !ok {
		e.log.Warn("evolu: sync message for unknown owner", "url", url, "ownerId", ownerID)
		return
	}

	env, err := protocol.Decode(data, o.EncryptionKey)
	if err != nil {
		var unsupported *protocol.ProtocolUnsupportedVersionError
		if errors.As(err, &unsupported) {
			e.reportError(fmt.Errorf("%w: %v", xresult.ErrProtocolUnsupportedVersion, err))
		} else {
			e.reportError(fmt.Errorf("%w: %v", xresult.ErrDecrypt, err))
		}
		return
	}

	messages := make([]crdt.Message, len(env.Changes))
	for i, c := range env.Changes {
		messages[i] = crdt.Message{
			Table: c.Table, RowID: c.RowID, OwnerID: ownerID,
			Column: c.Column, Value: c.Value, Timestamp: c.Timestamp,
		}
	}

	applied, err := e.crdt.Receive(ctx, messages)
	if err != nil {
		e.reportError(fmt.Errorf("%w: %v", xresult.ErrSqlite, err))
		return
	}

	u := e.usageFor(ownerID)
	if len(env.Changes) > 0 {
		u.RecordReceived(len(data), env.Changes[len(env.Changes)-1].Timestamp)
	} else {
		u.RecordStored(int64(len(data)))
	}
	e.log.Debug("evolu: applied inbound sync frame", "owner", ownerID, "tables", len(applied.Tables), "messages", len(applied.Messages))

	e.refreshSubscribed(ctx, e.subscribedQueries())
}

// pushMessages groups newly applied local messages by owner, seals one
// envelope per owner, and sends it over every connection that owner uses.
func (e *Engine) pushMessages(messages []crdt.Message) {
	if len(messages) == 0 {
		return
	}

	byOwner := make(map[string][]protocol.Change)
	for _, m := range messages {
		byOwner[m.OwnerID] = append(byOwner[m.OwnerID], protocol.Change{
			Table: m.Table, RowID: m.RowID, Column: m.Column, Value: m.Value, Timestamp: m.Timestamp,
		})
	}

	for ownerID, changes := range byOwner {
		o, ok := e.sync.GetOwner(ownerID)
		if !ok {
			if ownerID != e.crdt.Owner().ID {
				continue
			}
			o = e.crdt.Owner()
		}

		env := protocol.NewEnvelope(o, true, changes)
		frame, err := protocol.Encode(env, o.EncryptionKey)
		if err != nil {
			e.log.Warn("evolu: encode outbound frame failed", "owner", ownerID, "error", err)
			continue
		}

		if err := e.sync.Send(ownerID, frame); err != nil {
			e.log.Debug("evolu: send outbound frame failed", "owner", ownerID, "error", err)
			continue
		}

		e.usageFor(ownerID).RecordSent(len(frame), changes[lastIndex(changes)].Timestamp)
	}
}

func lastIndex[T any](s []T) int { return len(s) - 1 }
