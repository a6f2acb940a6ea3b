package evolu

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/crdt"
	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/protocol"
	"github.com/evoluhq/evolu-go/internal/query"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/evoluhq/evolu-go/internal/syncclient"
	"github.com/evoluhq/evolu-go/internal/timestamp"
	"github.com/evoluhq/evolu-go/internal/xresult"
)

func mustTimestamp(t *testing.T) timestamp.Timestamp {
	t.Helper()
	ts, err := timestamp.Initial(1_700_000_000_000, clock.NewDeterministicRand(3))
	require.NoError(t, err)
	return ts
}

func testSchema(t *testing.T) schema.DbSchema {
	t.Helper()
	desired, err := schema.NewDbSchema(map[schema.TableName][]schema.ColumnName{
		"todo": {"title", "isChecked"},
	}, nil)
	require.NoError(t, err)
	return desired
}

// fakeTransport is an in-memory syncclient.Transport: WriteMessage records
// outbound frames, ReadMessage blocks until Close.
type fakeTransport struct {
	sent   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("fake: closed")
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case f.sent <- data:
		return nil
	case <-f.closed:
		return errors.New("fake: closed")
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func fakeDialer(transports chan *fakeTransport) syncclient.Dialer {
	return func(ctx context.Context, url string) (syncclient.Transport, error) {
		tr := newFakeTransport()
		select {
		case transports <- tr:
		default:
		}
		return tr, nil
	}
}

func openTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.StoragePath == "" {
		opts.StoragePath = filepath.Join(t.TempDir(), "evolu-test.sqlite3")
	}
	if opts.Schema.Tables == nil {
		opts.Schema = testSchema(t)
	}
	e, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenAppliesInitialDataOnFreshStorage(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{
		InitialData: []schema.Change{
			{Table: "todo", ID: "1", Values: map[schema.ColumnName]schema.Value{"title": schema.Text("seed")}},
		},
	})

	res, err := e.Load(ctx, query.Query{SQL: `SELECT title FROM todo`})
	require.NoError(t, err)
	require.Equal(t, query.StatusResolved, res.Status)
	require.Len(t, res.Rows, 1)
}

func TestSubscribeLoadUnsubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})

	q := query.Query{SQL: `SELECT title FROM todo`}
	s := e.Subscribe(q)
	require.Contains(t, e.subscribedQueries(), q)

	res, err := e.Load(ctx, q)
	require.NoError(t, err)
	require.Empty(t, res.Rows)

	e.Unsubscribe(s)
	require.Empty(t, e.subscribedQueries())
}

func TestMutateRefreshesSubscribedQueriesAndReturnsPatches(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})

	q := query.Query{SQL: `SELECT id, title FROM todo`}
	e.Subscribe(q)

	applied, patches, err := e.Mutate(ctx, []crdt.Mutation{
		{Kind: schema.Insert, Change: schema.Change{
			Table: "todo", ID: "1",
			Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")},
		}},
	}, e.subscribedQueries())
	require.NoError(t, err)
	require.Contains(t, applied.Tables, schema.TableName("todo"))
	require.NotEmpty(t, applied.Messages)

	serial := query.Serialize(q)
	require.NotEmpty(t, patches[serial])
}

func TestMutatePushesOutboundFrameWhenSyncIsWired(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	e := openTestEngine(t, Options{
		SyncURLs: []string{"ws://relay.example/sync"},
		Dialer:   fakeDialer(transports),
	})
	ctx := context.Background()

	var tr *fakeTransport
	select {
	case tr = <-transports:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection dial")
	}

	_, _, err := e.Mutate(ctx, []crdt.Mutation{
		{Kind: schema.Insert, Change: schema.Change{
			Table: "todo", ID: "1",
			Values: map[schema.ColumnName]schema.Value{"title": schema.Text("a")},
		}},
	}, nil)
	require.NoError(t, err)

	select {
	case frame := <-tr.sent:
		require.NotEmpty(t, frame)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound frame")
	}
}

func TestOnMessageAppliesInboundEnvelopeAndRefreshesSubscriptions(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})
	o := e.Owner()

	q := query.Query{SQL: `SELECT id, title FROM todo`}
	e.Subscribe(q)

	env := protocol.NewEnvelope(o, false, []protocol.Change{
		{Table: "todo", RowID: "1", Column: "title", Value: schema.Text("remote"), Timestamp: mustTimestamp(t)},
	})
	frame, err := protocol.Encode(env, o.EncryptionKey)
	require.NoError(t, err)

	getOwner := func(id string) (owner.Owner, bool) {
		if id == o.ID {
			return o, true
		}
		return owner.Owner{}, false
	}
	e.OnMessage(ctx, "ws://relay.example/sync", frame, nil, getOwner)

	res, err := e.Load(ctx, q)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestOnMessageUnknownOwnerIsIgnored(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})
	o := e.Owner()

	env := protocol.NewEnvelope(o, false, []protocol.Change{
		{Table: "todo", RowID: "1", Column: "title", Value: schema.Text("remote"), Timestamp: mustTimestamp(t)},
	})
	frame, err := protocol.Encode(env, o.EncryptionKey)
	require.NoError(t, err)

	getOwner := func(id string) (owner.Owner, bool) { return owner.Owner{}, false }
	e.OnMessage(ctx, "ws://relay.example/sync", frame, nil, getOwner)

	select {
	case err := <-e.Errors():
		t.Fatalf("unexpected error reported: %v", err)
	default:
	}
}

func TestOnMessageDecryptFailureReportsError(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})
	o := e.Owner()

	env := protocol.NewEnvelope(o, false, []protocol.Change{
		{Table: "todo", RowID: "1", Column: "title", Value: schema.Text("remote"), Timestamp: mustTimestamp(t)},
	})
	wrongKey := o.EncryptionKey
	wrongKey[0] ^= 0xFF
	frame, err := protocol.Encode(env, wrongKey)
	require.NoError(t, err)

	getOwner := func(id string) (owner.Owner, bool) { return o, true }
	e.OnMessage(ctx, "ws://relay.example/sync", frame, nil, getOwner)

	select {
	case err := <-e.Errors():
		require.ErrorIs(t, err, xresult.ErrDecrypt)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reported error")
	}
}

func TestResetClearsReactiveStateAndAllowsSyncReuse(t *testing.T) {
	ctx := context.Background()
	transports := make(chan *fakeTransport, 4)
	e := openTestEngine(t, Options{
		SyncURLs: []string{"ws://relay.example/sync"},
		Dialer:   fakeDialer(transports),
	})
	<-transports // drain the initial Open-time connection

	q := query.Query{SQL: `SELECT title FROM todo`}
	e.Subscribe(q)
	require.NotEmpty(t, e.subscribedQueries())

	require.NoError(t, e.Reset(ctx))
	require.Empty(t, e.subscribedQueries())

	// A rebuilt sync client must still accept new owners.
	e.UseOwner(e.Owner(), []string{"ws://relay.example/sync"}, true)
	select {
	case <-transports:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnection after reset")
	}
}

func TestRestoreReinitializesUnderNewOwnerAndReconnects(t *testing.T) {
	ctx := context.Background()
	transports := make(chan *fakeTransport, 4)
	e := openTestEngine(t, Options{
		SyncURLs: []string{"ws://relay.example/sync"},
		Dialer:   fakeDialer(transports),
	})
	<-transports // drain the initial Open-time connection

	before := e.Owner()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"
	restored, err := e.Restore(ctx, mnemonic, testSchema(t), []string{"ws://relay.example/sync"})
	require.NoError(t, err)
	require.NotEqual(t, before.ID, restored.ID)

	select {
	case <-transports:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnection after restore")
	}
}

func TestRotateWriteKeyKeepsIdentityAndUpdatesOwner(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, Options{})
	before := e.Owner()

	next, previous, err := e.RotateWriteKey(ctx, clock.NewDeterministicRand(7), nil)
	require.NoError(t, err)
	require.Equal(t, before.WriteKey, previous)
	require.NotEqual(t, previous, next.WriteKey)
	require.Equal(t, before.ID, next.ID)
	require.Equal(t, next.WriteKey, e.Owner().WriteKey)
}
