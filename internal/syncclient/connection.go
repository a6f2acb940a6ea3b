package syncclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evoluhq/evolu-go/internal/schedule"
)

// Transport is the byte-oriented duplex the sync client drives.
// *websocket.Conn satisfies this directly; tests substitute an
// in-memory fake.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Transport to url.
type Dialer func(ctx context.Context, url string) (Transport, error)

// connection is one shared transport for a url, reference-counted across
// every owner whose transport set includes it. Open/retry is driven by
// the schedule algebra; connection-level errors never propagate past
// run — the caller observes only OnOpen/OnMessage callbacks.
type connection struct {
	url    string
	client *Client
	id     uuid.UUID

	refs          int
	disposalTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn Transport
}

func newConnection(url string, c *Client) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		url:    url,
		client: c,
		id:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (conn *connection) start() {
	go conn.run()
}

// run dials and reads until ctx is cancelled, redialing on every
// transport error according to client.deps.Retry. This is SPEC_FULL.md
// §4.6's "connection-level retry is the caller's responsibility via the
// schedule algebra" — the caller here is the sync client itself.
func (conn *connection) run() {
	log := conn.client.deps.Log
	_ = schedule.Run(conn.ctx, conn.client.deps.Retry, conn.client.deps.Schedule, func(ctx context.Context) error {
		t, err := conn.client.deps.Dialer(ctx, conn.url)
		if err != nil {
			log.Warn("syncclient: dial failed", "connId", conn.id, "url", conn.url, "error", err)
			return fmt.Errorf("syncclient: dial %s: %w", conn.url, err)
		}

		conn.mu.Lock()
		conn.conn = t
		conn.mu.Unlock()

		ownerIDs := conn.client.ownerIDsForURL(conn.url)
		log.Info("syncclient: connection open", "connId", conn.id, "url", conn.url, "owners", len(ownerIDs))
		conn.client.handler.OnOpen(ctx, conn.url, ownerIDs, conn.send)

		err = conn.readLoop(ctx, t)
		log.Debug("syncclient: connection closed", "connId", conn.id, "url", conn.url, "error", err)
		return err
	})
}

func (conn *connection) readLoop(ctx context.Context, t Transport) error {
	defer func() {
		conn.mu.Lock()
		if conn.conn == t {
			conn.conn = nil
		}
		conn.mu.Unlock()
		_ = t.Close()
	}()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-stopWatch:
		}
	}()

	for {
		messageType, data, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("syncclient: read %s: %w", conn.url, err)
		}
		if messageType != BinaryMessage {
			continue
		}
		conn.client.handler.OnMessage(ctx, conn.url, data, conn.send, conn.client.GetOwner)
	}
}

func (conn *connection) send(payload []byte) error {
	conn.mu.Lock()
	t := conn.conn
	conn.mu.Unlock()
	if t == nil {
		return fmt.Errorf("syncclient: %s not connected", conn.url)
	}
	return t.WriteMessage(BinaryMessage, payload)
}

func (conn *connection) close() {
	conn.cancel()
	conn.mu.Lock()
	t := conn.conn
	conn.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}
