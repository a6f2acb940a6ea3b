package crdt

import (
	"context"
	"fmt"

	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
)

const metadataTable = "evolu_metadata"

// ensureMetadataTable creates the single-row table holding the AppOwner
// and the HLC head, per SPEC_FULL.md §5: "HLC head ... persisted in a
// single-row metadata table".
func ensureMetadataTable(ctx context.Context, tx storage.Tx) error {
	_, err := tx.Exec(ctx, storage.Query{SQL: `CREATE TABLE IF NOT EXISTS ` + metadataTable + ` (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		ownerKind INTEGER NOT NULL,
		ownerId BLOB NOT NULL,
		encryptionKey BLOB NOT NULL,
		writeKey BLOB NOT NULL,
		hlcMillis INTEGER NOT NULL,
		hlcCounter INTEGER NOT NULL,
		hlcNodeId BLOB NOT NULL
	)`})
	return err
}

// loadMetadata returns the persisted owner and HLC head, and whether a
// row exists at all (storage is considered empty otherwise).
func loadMetadata(ctx context.Context, tx storage.Tx) (owner.Owner, timestamp.Timestamp, bool, error) {
	res, err := tx.Exec(ctx, storage.Query{SQL: `SELECT * FROM ` + metadataTable + ` WHERE id = 0`})
	if err != nil {
		return owner.Owner{}, timestamp.Timestamp{}, false, err
	}
	if len(res.Rows) == 0 {
		return owner.Owner{}, timestamp.Timestamp{}, false, nil
	}
	row := res.Rows[0]

	o := owner.Owner{
		Kind: owner.Kind(row["ownerKind"].Integer),
	}
	copy(o.IDBytes[:], row["ownerId"].Blob)
	o.ID = owner.EncodeID(o.IDBytes)
	copy(o.EncryptionKey[:], row["encryptionKey"].Blob)
	copy(o.WriteKey[:], row["writeKey"].Blob)

	var node timestamp.NodeID
	copy(node[:], row["hlcNodeId"].Blob)
	head := timestamp.Timestamp{
		Millis:  row["hlcMillis"].Integer,
		Counter: uint16(row["hlcCounter"].Integer),
		NodeID:  node,
	}
	return o, head, true, nil
}

// saveMetadata upserts the owner and HLC head in one statement.
func saveMetadata(ctx context.Context, tx storage.Tx, o owner.Owner, head timestamp.Timestamp) error {
	_, err := tx.Exec(ctx, storage.Query{
		SQL: `INSERT INTO ` + metadataTable + ` (id, ownerKind, ownerId, encryptionKey, writeKey, hlcMillis, hlcCounter, hlcNodeId)
		      VALUES (0, ?, ?, ?, ?, ?, ?, ?)
		      ON CONFLICT (id) DO UPDATE SET
		        ownerKind=excluded.ownerKind, ownerId=excluded.ownerId,
		        encryptionKey=excluded.encryptionKey, writeKey=excluded.writeKey,
		        hlcMillis=excluded.hlcMillis, hlcCounter=excluded.hlcCounter, hlcNodeId=excluded.hlcNodeId`,
		Params: []schema.Value{
			schema.Integer(int64(o.Kind)),
			schema.Blob(o.IDBytes[:]),
			schema.Blob(o.EncryptionKey[:]),
			schema.Blob(o.WriteKey[:]),
			schema.Integer(head.Millis),
			schema.Integer(int64(head.Counter)),
			schema.Blob(head.NodeID[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("crdt: save metadata: %w", err)
	}
	return nil
}
