// Package dbpool is a database-access framework core: a connection pool
// and a pluggable driver-abstraction layer, tied together by a
// Database facade that transparently rebinds prepared statements across
// whichever connection the pool hands back. See SPEC_FULL.md.
package dbpool

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/rs/zerolog"

	"dbpool/driver"
	"dbpool/internal/logging"
	"dbpool/pool"
	"dbpool/stmtcache"
)

// SetupFunc runs once after every new connection is built, and again on
// every currently-available connection whenever it is (re)installed via
// Database.SetSetupConnection.
type SetupFunc func(ctx context.Context, conn driver.Conn) error

// Database ties one driver, one pool, one statement cache, one parsed
// URL, and one setup hook together (spec §4.5). The Open/Close pair and
// UsingConnection give RAII-style connection lease semantics (§4.6).
type Database struct {
	url *url.URL
	drv driver.Driver
	log zerolog.Logger

	pool *pool.Pool

	mu    sync.Mutex
	setup SetupFunc

	stmts  cmap.ConcurrentMap
	closed bool
}

// URL implements driver.DatabaseHandle. It is the only thing a driver may
// retain a reference to across BuildConnection calls; the Database itself
// is a non-owning back-reference the driver must not otherwise touch (see
// SPEC_FULL.md §9 on the Database<->Pool construction cycle).
func (db *Database) URL() *url.URL { return db.url }

// Open parses rawurl, looks up its scheme in the driver registry, and
// constructs a Database. Pool construction is two-phase to resolve the
// Database<->Pool back-edge: the pool's connection factory closes over
// db (a pointer that exists before the pool does) rather than the pool
// owning the database.
func Open(rawurl string) (*Database, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("dbpool: parsing url: %w", err)
	}

	drv, ok := lookupDriver(u.Scheme)
	if !ok {
		return nil, &unknownSchemeError{scheme: u.Scheme}
	}

	cfg, err := drv.PoolOptions(u.Query())
	if err != nil {
		return nil, fmt.Errorf("dbpool: parsing pool options: %w", err)
	}

	db := &Database{
		url:   u,
		drv:   drv,
		log:   logging.New(u.Scheme),
		stmts: cmap.New(),
	}

	factory := func(ctx context.Context) (driver.Conn, error) {
		conn, err := drv.BuildConnection(ctx, db)
		if err != nil {
			return nil, err
		}
		db.mu.Lock()
		hook := db.setup
		db.mu.Unlock()
		if hook != nil {
			if err := hook(ctx, conn); err != nil {
				conn.Close()
				return nil, err
			}
		}
		if !conn.IsValid() {
			conn.Close()
			return nil, driver.ErrBadConn
		}
		return conn, nil
	}

	poolCfg := pool.Config{
		InitialPoolSize: cfg.InitialPoolSize,
		MaxPoolSize:     cfg.MaxPoolSize,
		MaxIdlePoolSize: cfg.MaxIdlePoolSize,
		CheckoutTimeout: cfg.CheckoutTimeout,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
	}
	p, err := pool.New(poolCfg, factory, db.log)
	if err != nil {
		return nil, fmt.Errorf("dbpool: building pool: %w", err)
	}
	db.pool = p

	return db, nil
}

// UsingConnection checks out a connection, runs body with it, and
// guarantees the connection returns to the pool on every exit path:
// normal return, error return, panic, or context cancellation. A
// connection is marked broken for discard only if body returned an error
// the driver classified as retryable, or if body panicked.
func (db *Database) UsingConnection(ctx context.Context, body func(ctx context.Context, conn driver.Conn) error) (err error) {
	conn, checkoutErr := db.pool.Checkout(ctx)
	if checkoutErr != nil {
		return checkoutErr
	}

	defer func() {
		if r := recover(); r != nil {
			conn.MarkBroken()
			db.pool.Release(conn, false)
			panic(r)
		}
		if driver.IsRetryable(err) {
			conn.MarkBroken()
		}
		db.pool.Release(conn, false)
	}()

	err = body(ctx, conn.Raw())
	return err
}

// Prepare returns the pool statement cached for query, creating it on
// first use. Preparing the same query text twice returns the same
// *stmtcache.PoolStatement, satisfying the round-trip law in spec §8.
func (db *Database) Prepare(query string) (*stmtcache.PoolStatement, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if v, ok := db.stmts.Get(query); ok {
		return v.(*stmtcache.PoolStatement), nil
	}
	ps := stmtcache.New(db.pool, query)
	db.stmts.SetIfAbsent(query, ps)
	v, _ := db.stmts.Get(query)
	return v.(*stmtcache.PoolStatement), nil
}

// Query prepares (or reuses) query and executes it, returning a cursor.
func (db *Database) Query(ctx context.Context, query string, args ...driver.Value) (*stmtcache.Rows, error) {
	ps, err := db.Prepare(query)
	if err != nil {
		return nil, err
	}
	return ps.Query(ctx, args)
}

// Exec prepares (or reuses) query and executes it for side effects.
func (db *Database) Exec(ctx context.Context, query string, args ...driver.Value) (driver.ExecResult, error) {
	ps, err := db.Prepare(query)
	if err != nil {
		return nil, err
	}
	return ps.Exec(ctx, args)
}

// Scalar returns the first column of the first row, or nil if the query
// produced no rows.
func (db *Database) Scalar(ctx context.Context, query string, args ...driver.Value) (driver.Value, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next(ctx) {
		return nil, rows.Err()
	}
	var v driver.Value
	if err := rows.Scan(0, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Retry runs body, replaying it on driver-classified retryable failures
// per the pool's RetryAttempts/RetryDelay configuration.
func (db *Database) Retry(ctx context.Context, body func(ctx context.Context) error) error {
	return db.pool.Retry(ctx, body)
}

// SetSetupConnection installs fn as the hook run after every new
// connection is built, and immediately re-runs it once on every
// currently-available connection (spec §4.5, round-trip law in §8).
func (db *Database) SetSetupConnection(ctx context.Context, fn SetupFunc) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrPoolClosed
	}
	db.setup = fn
	db.mu.Unlock()

	var firstErr error
	db.pool.EachResource(func(c *pool.Conn) {
		if firstErr != nil {
			return
		}
		if err := fn(ctx, c.Raw()); err != nil {
			firstErr = err
		}
	})
	return firstErr
}

// Stats returns a snapshot of pool occupancy.
func (db *Database) Stats() pool.Stats { return db.pool.Stats() }

// SetMaxIdlePoolSize lowers or raises the idle connection cap at runtime.
// Lowering it immediately discards the least-recently-released idle
// connections down to the new bound, per SPEC_FULL.md §3's idle-LRU
// enrichment. Returns the number of connections discarded.
func (db *Database) SetMaxIdlePoolSize(n int) int { return db.pool.SetMaxIdlePoolSize(n) }

// Close closes every cached pool statement, clears the cache, and closes
// the pool. After Close, UsingConnection, Prepare, Query, Exec, Scalar and
// SetSetupConnection fail with ErrPoolClosed; Retry returns whatever its
// body returns, and Stats and SetMaxIdlePoolSize still run against the
// closed pool.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	stmts := db.stmts
	db.stmts = cmap.New()
	db.mu.Unlock()

	for item := range stmts.IterBuffered() {
		item.Val.(*stmtcache.PoolStatement).Close()
	}
	return db.pool.Close()
}
