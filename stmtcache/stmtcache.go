// Package stmtcache implements the pool-bound statement cache described
// in spec §4.4: a cacheable front for a query string that transparently
// re-prepares on whatever connection the pool hands back, while reusing
// an already-prepared driver statement whenever the pool can give back a
// connection it has seen before.
package stmtcache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"dbpool/driver"
	"dbpool/pool"
)

type binding struct {
	ref  pool.WeakRef
	stmt driver.Stmt
}

// PoolStatement is what callers hold after Database.Prepare. It is safe
// for concurrent use; each execution independently asks the pool for a
// connection and either reuses or builds a driver statement on it.
type PoolStatement struct {
	query string
	pool  *pool.Pool

	mu       sync.Mutex
	bindings map[uuid.UUID]binding
	closed   bool
}

// New creates a pool statement for query against p. Callers normally go
// through Database.Prepare, which also deduplicates by query text.
func New(p *pool.Pool, query string) *PoolStatement {
	return &PoolStatement{
		query:    query,
		pool:     p,
		bindings: make(map[uuid.UUID]binding),
	}
}

// QueryText returns the query text this pool statement prepares.
func (ps *PoolStatement) QueryText() string { return ps.query }

func (ps *PoolStatement) candidatesLocked() []pool.WeakRef {
	out := make([]pool.WeakRef, 0, len(ps.bindings))
	for _, b := range ps.bindings {
		out = append(out, b.ref)
	}
	return out
}

// pruneStaleLocked drops bindings whose connection the pool has already
// discarded. It never closes the associated driver statement: by the
// time a binding is stale, its connection (and everything prepared on it)
// is already gone, so there is nothing live left to close.
func (ps *PoolStatement) pruneStaleLocked() {
	for id, b := range ps.bindings {
		if !ps.pool.IsAlive(b.ref) {
			delete(ps.bindings, id)
		}
	}
}

// resolve returns a checked-out connection and a driver statement bound
// to it, reusing a cached binding when the pool can give back a
// connection this statement has already seen.
func (ps *PoolStatement) resolve(ctx context.Context) (*pool.Conn, driver.Stmt, error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, nil, errClosed
	}
	candidates := ps.candidatesLocked()
	ps.mu.Unlock()

	conn, reused, err := ps.pool.CheckoutSome(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}

	if reused {
		ps.mu.Lock()
		b, ok := ps.bindings[conn.ID]
		ps.mu.Unlock()
		if ok {
			return conn, b.stmt, nil
		}
		// The candidate matched a live connection but our own binding for
		// it was already pruned by a concurrent call; fall through and
		// rebuild below.
	}

	stmt, err := conn.Raw().BuildStatement(ctx, ps.query)
	if err != nil {
		releaseChecked(ps.pool, conn, err)
		return nil, nil, err
	}

	ps.mu.Lock()
	ps.pruneStaleLocked()
	ps.bindings[conn.ID] = binding{ref: ps.pool.WeakRefFor(conn), stmt: stmt}
	ps.mu.Unlock()

	return conn, stmt, nil
}

// Query executes the statement and returns a forward cursor. The
// connection and driver statement it used stay checked out until the
// returned Rows is closed.
func (ps *PoolStatement) Query(ctx context.Context, args []driver.Value) (*Rows, error) {
	conn, stmt, err := ps.resolve(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(ctx, args)
	if err != nil {
		releaseChecked(ps.pool, conn, err)
		return nil, err
	}
	return &Rows{raw: rows, release: func(broken bool) {
		if broken {
			conn.MarkBroken()
		}
		ps.pool.Release(conn, false)
	}}, nil
}

// Exec executes the statement for its side effects and returns the
// connection to the pool immediately, since there is no cursor to keep it
// alive for.
func (ps *PoolStatement) Exec(ctx context.Context, args []driver.Value) (driver.ExecResult, error) {
	conn, stmt, err := ps.resolve(ctx)
	if err != nil {
		return nil, err
	}
	res, err := stmt.Exec(ctx, args)
	releaseChecked(ps.pool, conn, err)
	return res, err
}

// releaseChecked returns conn to p, marking it broken first when err is a
// driver-classified retryable failure, so Release's discard decision
// always flows through Conn.MarkBroken rather than a bare bool.
func releaseChecked(p *pool.Pool, conn *pool.Conn, err error) {
	if driver.IsRetryable(err) {
		conn.MarkBroken()
	}
	p.Release(conn, false)
}

// Close closes the driver statement of every binding whose connection is
// still alive, and discards all bindings. Called by Database.Close.
func (ps *PoolStatement) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil
	}
	ps.closed = true
	for id, b := range ps.bindings {
		if ps.pool.IsAlive(b.ref) {
			b.stmt.Close()
		}
		delete(ps.bindings, id)
	}
	return nil
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "stmtcache: statement closed" }
