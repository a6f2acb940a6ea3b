// Package syncclient multiplexes an arbitrary set of active owners over a
// dynamically-sized pool of transport connections, per SPEC_FULL.md §4.6.
// It never interprets frame contents; internal/protocol owns the wire
// format, and a Handler supplied by the caller (the Evolu facade) is told
// about connection opens and inbound frames.
package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evoluhq/evolu-go/internal/owner"
	"github.com/evoluhq/evolu-go/internal/schedule"
)

// DefaultDisposalDelay absorbs React-style remount churn: a owner or
// connection dropping to zero refs is not torn down immediately, only
// after this much idle time, per SPEC_FULL.md §4.6.
const DefaultDisposalDelay = 100 * time.Millisecond

// SendFunc writes one binary frame to a transport connection.
type SendFunc func(payload []byte) error

// Handler receives connection lifecycle events. The sync client is
// transport plumbing only; decoding and re-encoding frames is
// internal/protocol's job, invoked from here through the Handler.
type Handler interface {
	// OnOpen is invoked once a connection to url is established, with the
	// ids of every owner currently using it.
	OnOpen(ctx context.Context, url string, ownerIDs []string, send SendFunc)
	// OnMessage is invoked for every binary frame read off url.
	OnMessage(ctx context.Context, url string, data []byte, send SendFunc, getOwner func(id string) (owner.Owner, bool))
}

// Deps are the sync client's pluggable collaborators: schedule.Deps is
// passed to the schedule algebra the reconnect loop compiles onto a
// backoff.BackOff.
type Deps struct {
	Dialer        Dialer
	Schedule      schedule.Deps
	Retry         schedule.Schedule[struct{}, time.Duration]
	DisposalDelay time.Duration
	Log           *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Dialer == nil {
		d.Dialer = DialWebsocket
	}
	if d.Schedule.Clock == nil || d.Schedule.Rand == nil {
		d.Schedule = schedule.SystemDeps()
	}
	if d.Retry == nil {
		d.Retry = defaultRetry()
	}
	if d.DisposalDelay <= 0 {
		d.DisposalDelay = DefaultDisposalDelay
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return d
}

// defaultRetry is an unbounded exponential backoff from 1s with factor 2,
// capped at 30s and then jittered by ±50% (so one delay can reach 45s),
// suited to a long-lived multiplexed connection rather than
// the bounded AWS presets (those exist for one-shot RPC retries).
func defaultRetry() schedule.Schedule[struct{}, time.Duration] {
	return schedule.Jitter[struct{}, time.Duration](0.5,
		schedule.MaxDelay[struct{}, time.Duration](30*time.Second,
			schedule.Exponential[struct{}](time.Second, 2)))
}

type ownerState struct {
	owner owner.Owner
	urls  []string
	refs  int
	timer *time.Timer
}

// Client is one sync client instance: the owner registry plus the
// connection pool it drives, per SPEC_FULL.md §4.6.
type Client struct {
	handler Handler
	deps    Deps

	mu       sync.Mutex
	owners   map[string]*ownerState
	conns    map[string]*connection
	disposed bool
}

// New constructs a Client. handler must not be nil.
func New(handler Handler, deps Deps) *Client {
	return &Client{
		handler: handler,
		deps:    deps.withDefaults(),
		owners:  make(map[string]*ownerState),
		conns:   make(map[string]*connection),
	}
}

// UseOwner increments or decrements the owner's reference count.
// Transition 0→1 ensures a connection exists for every url in urls;
// transition 1→0 schedules disposal after DisposalDelay, cancelled if
// the owner is re-acquired before the timer fires.
func (c *Client) UseOwner(o owner.Owner, urls []string, acquire bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	st, ok := c.owners[o.ID]
	if acquire {
		if !ok {
			st = &ownerState{owner: o, urls: append([]string(nil), urls...)}
			c.owners[o.ID] = st
		}
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.refs++
		if st.refs == 1 {
			for _, url := range st.urls {
				c.acquireConnLocked(url)
			}
		}
		return
	}

	if !ok {
		return
	}
	st.refs--
	if st.refs > 0 {
		return
	}
	id := o.ID
	st.timer = time.AfterFunc(c.deps.DisposalDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		cur, ok := c.owners[id]
		if !ok || cur.refs > 0 {
			return
		}
		delete(c.owners, id)
		for _, url := range cur.urls {
			c.releaseConnLocked(url)
		}
	})
}

// GetOwner returns the active owner for id, if any.
func (c *Client) GetOwner(id string) (owner.Owner, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.owners[id]
	if !ok {
		return owner.Owner{}, false
	}
	return st.owner, true
}

// Send forwards payload to every connection in the owner's transport
// set. It returns the first send error encountered, having attempted
// every connection regardless.
func (c *Client) Send(ownerID string, payload []byte) error {
	c.mu.Lock()
	st, ok := c.owners[ownerID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("syncclient: send: unknown owner %q", ownerID)
	}
	conns := make([]*connection, 0, len(st.urls))
	for _, url := range st.urls {
		if conn, ok := c.conns[url]; ok {
			conns = append(conns, conn)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.send(payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispose cancels all pending-disposal timers, tears down every
// connection, and drops all owner state. After Dispose every operation
// on c is a no-op.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	for _, st := range c.owners {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	conns := make([]*connection, 0, len(c.conns))
	for _, conn := range c.conns {
		if conn.disposalTimer != nil {
			conn.disposalTimer.Stop()
		}
		conns = append(conns, conn)
	}
	c.owners = make(map[string]*ownerState)
	c.conns = make(map[string]*connection)
	c.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

// acquireConnLocked ensures a connection to url exists and bumps its
// refcount. Callers must hold c.mu.
func (c *Client) acquireConnLocked(url string) {
	conn, ok := c.conns[url]
	if !ok {
		conn = newConnection(url, c)
		c.conns[url] = conn
		conn.start()
	}
	if conn.disposalTimer != nil {
		conn.disposalTimer.Stop()
		conn.disposalTimer = nil
	}
	conn.refs++
}

// releaseConnLocked drops url's refcount, scheduling disposal once it
// reaches zero. Callers must hold c.mu.
func (c *Client) releaseConnLocked(url string) {
	conn, ok := c.conns[url]
	if !ok {
		return
	}
	conn.refs--
	if conn.refs > 0 {
		return
	}
	conn.disposalTimer = time.AfterFunc(c.deps.DisposalDelay, func() {
		c.mu.Lock()
		cur, ok := c.conns[url]
		if !ok || cur.refs > 0 {
			c.mu.Unlock()
			return
		}
		delete(c.conns, url)
		c.mu.Unlock()
		cur.close()
	})
}

// ownerIDsForURL lists the ids of every owner currently using url, the
// set a freshly opened connection reports to Handler.OnOpen.
func (c *Client) ownerIDsForURL(url string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, st := range c.owners {
		for _, u := range st.urls {
			if u == url {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}
