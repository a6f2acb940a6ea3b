package syncclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evoluhq/evolu-go/internal/owner"
)

// fakeTransport is an in-memory Transport: WriteMessage delivers to sent,
// ReadMessage blocks on toClient, Close unblocks both.
type fakeTransport struct {
	toClient chan []byte
	sent     chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		toClient: make(chan []byte, 8),
		sent:     make(chan []byte, 8),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.toClient:
		if !ok {
			return 0, nil, errors.New("fake: channel closed")
		}
		return BinaryMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("fake: closed")
	}
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

type openEvent struct {
	url      string
	ownerIDs []string
}

type messageEvent struct {
	url  string
	data []byte
}

// fakeHandler records lifecycle events onto buffered channels so tests
// can synchronize on them without sleeping.
type fakeHandler struct {
	opens    chan openEvent
	messages chan messageEvent
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		opens:    make(chan openEvent, 8),
		messages: make(chan messageEvent, 8),
	}
}

func (h *fakeHandler) OnOpen(_ context.Context, url string, ownerIDs []string, _ SendFunc) {
	h.opens <- openEvent{url: url, ownerIDs: append([]string(nil), ownerIDs...)}
}

func (h *fakeHandler) OnMessage(_ context.Context, url string, data []byte, _ SendFunc, _ func(string) (owner.Owner, bool)) {
	h.messages <- messageEvent{url: url, data: data}
}

func testOwner(id string) owner.Owner {
	return owner.Owner{Kind: owner.KindApp, ID: id}
}

func newTestClient(t *testing.T, transports chan *fakeTransport) *Client {
	t.Helper()
	handler := newFakeHandler()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		tr := newFakeTransport()
		select {
		case transports <- tr:
		default:
		}
		return tr, nil
	}
	c := New(handler, Deps{
		Dialer:        dialer,
		DisposalDelay: 10 * time.Millisecond,
	})
	t.Cleanup(c.Dispose)
	return c
}

func TestUseOwnerAcquireOpensConnectionAndDeliversOnOpen(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)
	h := c.handler.(*fakeHandler)

	o := testOwner("owner-1")
	c.UseOwner(o, []string{"ws://example/sync"}, true)

	select {
	case ev := <-h.opens:
		require.Equal(t, "ws://example/sync", ev.url)
		require.Equal(t, []string{"owner-1"}, ev.ownerIDs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	got, ok := c.GetOwner("owner-1")
	require.True(t, ok)
	require.Equal(t, o, got)
}

func TestSendForwardsToEveryConnectionInOwnersTransportSet(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)

	c.UseOwner(testOwner("owner-1"), []string{"ws://a", "ws://b"}, true)

	trA := <-transports
	trB := <-transports

	require.NoError(t, c.Send("owner-1", []byte("hello")))

	select {
	case got := <-trA.sent:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("transport A never received the frame")
	}
	select {
	case got := <-trB.sent:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("transport B never received the frame")
	}
}

func TestOnMessageInvokesHandlerForInboundFrames(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)
	h := c.handler.(*fakeHandler)

	c.UseOwner(testOwner("owner-1"), []string{"ws://example/sync"}, true)
	tr := <-transports

	tr.toClient <- []byte("incoming")

	select {
	case ev := <-h.messages:
		require.Equal(t, "ws://example/sync", ev.url)
		require.Equal(t, []byte("incoming"), ev.data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnMessage")
	}
}

func TestUseOwnerReleaseDelaysDisposalAndReacquireCancelsIt(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)

	o := testOwner("owner-1")
	c.UseOwner(o, []string{"ws://example/sync"}, true)
	<-transports

	c.UseOwner(o, nil, false)
	c.UseOwner(o, nil, true) // re-acquire within the disposal window

	time.Sleep(30 * time.Millisecond)

	_, ok := c.GetOwner("owner-1")
	require.True(t, ok, "owner should survive a release immediately followed by a re-acquire")
}

func TestUseOwnerReleaseEventuallyClosesConnection(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)

	o := testOwner("owner-1")
	c.UseOwner(o, []string{"ws://example/sync"}, true)
	tr := <-transports

	c.UseOwner(o, nil, false)

	select {
	case <-tr.closed:
	case <-time.After(time.Second):
		t.Fatal("connection was never disposed")
	}

	_, ok := c.GetOwner("owner-1")
	require.False(t, ok)
}

func TestDisposeTearsDownConnectionsAndOwners(t *testing.T) {
	transports := make(chan *fakeTransport, 4)
	c := newTestClient(t, transports)

	c.UseOwner(testOwner("owner-1"), []string{"ws://example/sync"}, true)
	tr := <-transports

	c.Dispose()

	select {
	case <-tr.closed:
	case <-time.After(time.Second):
		t.Fatal("connection was not closed by Dispose")
	}

	_, ok := c.GetOwner("owner-1")
	require.False(t, ok)

	// Dispose is idempotent and subsequent operations are no-ops.
	c.UseOwner(testOwner("owner-2"), []string{"ws://example/sync"}, true)
	_, ok = c.GetOwner("owner-2")
	require.False(t, ok)
}
