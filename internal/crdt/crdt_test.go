package crdt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/storage"
	"github.com/evoluhq/evolu-go/internal/timestamp"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, schema.DbSchema) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolu-crdt-test.sqlite3")
	db, err := storage.OpenSqlite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	desired, err := schema.NewDbSchema(map[schema.TableName][]schema.ColumnName{
		"todo": {"title", "isChecked"},
	}, nil)
	require.NoError(t, err)

	e := New(db, clock.System{}, clock.NewDeterministicRand(1), timestamp.DefaultMaxDrift)
	return e, desired
}

func TestInitOnEmptyStorageCreatesOwnerAndAppliesInitialData(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()

	o, err := e.Init(ctx, desired, []schema.Change{
		{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("hi")}},
	})
	require.NoError(t, err)
	require.Equal(t, owner.KindApp, o.Kind)
	require.NotEmpty(t, o.ID)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT title FROM todo`})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "hi", rows[0]["title"])
}

func TestInitOnNonEmptyStorageReloadsExistingOwner(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()

	o1, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	e2 := New(e.store, clock.System{}, clock.NewDeterministicRand(2), timestamp.DefaultMaxDrift)
	o2, err := e2.Init(ctx, desired, nil)
	require.NoError(t, err)

	require.Equal(t, o1.ID, o2.ID)
}

func TestMutateUpsertsAndRecordsHistory(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	applied, err := e.Mutate(ctx, []Mutation{
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")}}},
	})
	require.NoError(t, err)
	require.Contains(t, applied.Tables, schema.TableName("todo"))

	applied2, err := e.Mutate(ctx, []Mutation{
		{Kind: schema.Update, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("b")}}},
	})
	require.NoError(t, err)
	require.True(t, timestamp.Compare(applied2.Head, applied.Head) > 0)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT title FROM todo WHERE id = ?`, Params: []schema.Value{schema.Text("1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0]["title"])
}

func TestMutateRejectsWholeBatchOnValidationFailure(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")}}},
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("bad")}}},
	})
	require.Error(t, err)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT title FROM todo`})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReceiveIsLastWriterWinsByTimestamp(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	o, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	rng := clock.NewDeterministicRand(5)
	node, err := timestamp.Initial(1000, rng)
	require.NoError(t, err)
	earlier := node
	later, err := timestamp.Send(earlier, 2000, timestamp.DefaultMaxDrift)
	require.NoError(t, err)

	_, err = e.Receive(ctx, []Message{
		{Table: "todo", RowID: "1", OwnerID: o.ID, Column: "title", Value: schema.Text("late"), Timestamp: later},
		{Table: "todo", RowID: "1", OwnerID: o.ID, Column: "title", Value: schema.Text("early"), Timestamp: earlier},
	})
	require.NoError(t, err)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT title FROM todo WHERE id = ?`, Params: []schema.Value{schema.Text("1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "late", rows[0]["title"])
}

func TestReceiveDuplicateDeliveryDoesNotToggleMerkleTree(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	o, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	rng := clock.NewDeterministicRand(7)
	ts, err := timestamp.Initial(1000, rng)
	require.NoError(t, err)

	msg := Message{Table: "todo", RowID: "1", OwnerID: o.ID, Column: "title", Value: schema.Text("a"), Timestamp: ts}
	_, err = e.Receive(ctx, []Message{msg})
	require.NoError(t, err)
	headAfterFirst := e.tree.HeadBytes()

	_, err = e.Receive(ctx, []Message{msg})
	require.NoError(t, err)
	require.Equal(t, headAfterFirst, e.tree.HeadBytes())
}

func TestReceiveLosingButNewMessageSurvivesRestart(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	o, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	rng := clock.NewDeterministicRand(9)
	earlier, err := timestamp.Initial(1000, rng)
	require.NoError(t, err)
	later, err := timestamp.Send(earlier, 2000, timestamp.DefaultMaxDrift)
	require.NoError(t, err)

	// later arrives first and wins the cell; earlier arrives second, is new
	// to history, but loses the LWW race for the cell value.
	_, err = e.Receive(ctx, []Message{
		{Table: "todo", RowID: "1", OwnerID: o.ID, Column: "title", Value: schema.Text("late"), Timestamp: later},
	})
	require.NoError(t, err)
	_, err = e.Receive(ctx, []Message{
		{Table: "todo", RowID: "1", OwnerID: o.ID, Column: "title", Value: schema.Text("early"), Timestamp: earlier},
	})
	require.NoError(t, err)
	liveHead := e.tree.HeadBytes()

	e2 := New(e.store, clock.System{}, clock.NewDeterministicRand(11), timestamp.DefaultMaxDrift)
	_, err = e2.Init(ctx, desired, nil)
	require.NoError(t, err)
	require.Equal(t, liveHead, e2.tree.HeadBytes())
}

func TestMutateStampsCreatedAtAndUpdatedAt(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")}}},
	})
	require.NoError(t, err)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT createdAt, updatedAt FROM todo WHERE id = ?`, Params: []schema.Value{schema.Text("1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	createdAt := rows[0]["createdAt"]
	require.NotEmpty(t, createdAt)
	require.Equal(t, createdAt, rows[0]["updatedAt"])

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Update, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("b")}}},
	})
	require.NoError(t, err)

	rows, err = e.Query(ctx, storage.Query{SQL: `SELECT createdAt, updatedAt FROM todo WHERE id = ?`, Params: []schema.Value{schema.Text("1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, createdAt, rows[0]["createdAt"])
	require.NotEqual(t, createdAt, rows[0]["updatedAt"])
}

func TestMutateDeleteSetsIsDeleted(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")}}},
	})
	require.NoError(t, err)

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Delete, Change: schema.Change{Table: "todo", ID: "1"}},
	})
	require.NoError(t, err)

	rows, err := e.Query(ctx, storage.Query{SQL: `SELECT isDeleted FROM todo WHERE id = ?`, Params: []schema.Value{schema.Text("1")}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotZero(t, rows[0]["isDeleted"])
}

func TestHistoryReturnsLatestRecordedValue(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	_, err = e.Mutate(ctx, []Mutation{
		{Kind: schema.Insert, Change: schema.Change{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")}}},
	})
	require.NoError(t, err)

	v, _, found, err := e.History(ctx, "todo", "1", "title")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", v.Text)
}

func TestResetDropsAllTables(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, []schema.Change{
		{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("x")}},
	})
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	names, err := e.store.TableNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestRestoreRederivesOwnerFromMnemonic(t *testing.T) {
	e, desired := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Init(ctx, desired, nil)
	require.NoError(t, err)

	secret, err := owner.CreateSecret(clock.NewDeterministicRand(3))
	require.NoError(t, err)
	mnemonic, err := secret.Mnemonic()
	require.NoError(t, err)

	expected, _, err := owner.AppOwnerFromMnemonic(mnemonic)
	require.NoError(t, err)

	got, err := e.Restore(ctx, mnemonic, desired)
	require.NoError(t, err)
	require.Equal(t, expected.ID, got.ID)
}
