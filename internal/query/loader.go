package query

import (
	"context"
	"sync"

	"github.com/evoluhq/evolu-go/internal/schema"
)

// Status mirrors the status/value shape loadQuery's promise result
// carries for integration with synchronous-suspending UI reads
// (SPEC_FULL.md §4.7).
type Status int

const (
	StatusPending Status = iota
	StatusResolved
	StatusRejected
)

// Result is a loadQuery outcome.
type Result struct {
	Status Status
	Rows   []schema.Row
	Err    error
}

// Future is Go's stand-in for loadQuery's promise: a value that resolves
// exactly once, shared by every caller that requested the same Query
// while it was in flight.
type Future struct {
	done   chan struct{}
	result Result
}

// Wait blocks until the Future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Peek returns the Future's result without blocking, and whether it has
// resolved yet — the synchronous-suspending read path.
func (f *Future) Peek() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Exec runs a Query against storage and returns its rows.
type Exec func(ctx context.Context, q Query) ([]schema.Row, error)

// Loader is the loading-promise coalescer: concurrent Load calls for the
// same Query while a load is in flight share one Future; once resolved,
// later calls receive the same pre-resolved Future until GC reclaims it.
type Loader struct {
	mu       sync.Mutex
	exec     Exec
	inFlight map[Serial]*Future
	resolved map[Serial]*Future
}

// NewLoader returns a Loader that executes queries via exec.
func NewLoader(exec Exec) *Loader {
	return &Loader{
		exec:     exec,
		inFlight: make(map[Serial]*Future),
		resolved: make(map[Serial]*Future),
	}
}

// Load returns the Future for q: the in-flight one if a load is already
// running, the resolved one if q has already completed, or a freshly
// started one otherwise.
func (l *Loader) Load(ctx context.Context, q Query) *Future {
	s := Serialize(q)

	l.mu.Lock()
	if f, ok := l.resolved[s]; ok {
		l.mu.Unlock()
		return f
	}
	if f, ok := l.inFlight[s]; ok {
		l.mu.Unlock()
		return f
	}
	f := &Future{done: make(chan struct{})}
	l.inFlight[s] = f
	l.mu.Unlock()

	go l.run(ctx, s, q, f)
	return f
}

func (l *Loader) run(ctx context.Context, s Serial, q Query, f *Future) {
	rows, err := l.exec(ctx, q)
	if err != nil {
		f.result = Result{Status: StatusRejected, Err: err}
	} else {
		f.result = Result{Status: StatusResolved, Rows: rows}
	}

	l.mu.Lock()
	delete(l.inFlight, s)
	l.resolved[s] = f
	l.mu.Unlock()

	close(f.done)
}

// Invalidate drops q's resolved/in-flight Future, forcing the next Load
// to re-execute it. Used when a mutation changes q's underlying rows.
func (l *Loader) Invalidate(s Serial) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.resolved, s)
	delete(l.inFlight, s)
}

// GC drops every resolved Future whose Serial no longer has a
// subscriber, run after every mutation per SPEC_FULL.md §4.7.
func (l *Loader) GC(registry *Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.resolved {
		if !registry.IsSubscribed(s) {
			delete(l.resolved, s)
		}
	}
}
