// Package driver defines the contracts that a concrete database driver
// implements to plug into the pool and statement cache in the parent
// package. It intentionally says nothing about SQL syntax or wire
// protocols; it only describes the shapes the pool needs to hand
// connections and statements back and forth.
package driver

import (
	"context"
	"net/url"
	"time"
)

// Value is a driver argument or column value. The framework recognizes a
// core set of primitive kinds (nil, bool, int64, float64, string, []byte,
// time.Time); a driver may accept additional kinds of its own and must
// reject anything else with UnsupportedParamType.
type Value interface{}

// PoolConfig is the set of pool-shaping parameters a driver derives from a
// connection URL's query string. Fields mirror the framework-recognized
// params; a driver that needs more state keeps it to itself.
type PoolConfig struct {
	InitialPoolSize  int
	MaxPoolSize      int // 0 means unbounded
	MaxIdlePoolSize  int
	CheckoutTimeout  time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
}

// DatabaseHandle is the narrow view of a Database a driver needs in order
// to build a connection: its parsed URL. Drivers must not retain it beyond
// the call to BuildConnection; the handle is a non-owning back-reference.
type DatabaseHandle interface {
	URL() *url.URL
}

// Driver is a factory bound to one or more URL schemes. Registration
// happens once per scheme at process start via the parent package's
// Register function.
type Driver interface {
	// PoolOptions parses pool-shaping parameters out of a URL's query
	// values, applying framework defaults via ParsePoolConfig for the
	// recognized names and returning any error from an unparsable value.
	PoolOptions(params url.Values) (PoolConfig, error)

	// BuildConnection opens one new connection. Called by the pool
	// whenever it grows; never called concurrently with itself on behalf
	// of the same logical checkout, but many may run concurrently across
	// different checkouts.
	BuildConnection(ctx context.Context, db DatabaseHandle) (Conn, error)
}

// Conn is a live session to a backing database. It is mutated only by
// whichever goroutine currently holds its checkout.
type Conn interface {
	// BuildStatement prepares query on this connection.
	BuildStatement(ctx context.Context, query string) (Stmt, error)

	// Close releases the connection's resources. Called by the pool when
	// discarding the connection; never called while it is checked out.
	Close() error

	// IsValid reports whether the connection is still usable. The
	// Database's connection factory consults this after the setup hook
	// runs, before the pool hands a freshly-built connection to a caller.
	IsValid() bool
}

// Stmt is a prepared statement bound to one specific connection for its
// entire lifetime.
type Stmt interface {
	Query(ctx context.Context, args []Value) (Rows, error)
	Exec(ctx context.Context, args []Value) (ExecResult, error)
	Close() error
}

// Rows is a forward cursor over a result set.
type Rows interface {
	// Next advances to the next row, returning false at end of data or on
	// error (Err reports which).
	Next(ctx context.Context) bool
	Err() error
	ColumnCount() int
	ColumnName(i int) string

	// ColumnType reports the driver's own name for column i's wire type
	// (e.g. "int64", "varchar"). Drivers are free to use whatever naming
	// makes sense for their backend; the framework treats it as opaque.
	ColumnType(i int) string

	// Scan reads column i into dest, which must be a pointer to a type the
	// driver knows how to produce from that column's wire value. Unknown
	// target types are reported as UnsupportedReadType.
	Scan(i int, dest interface{}) error

	Close() error
}

// ExecResult is the outcome of a statement executed without a cursor.
type ExecResult interface {
	RowsAffected() (int64, error)
	LastInsertID() (int64, error)
}

// ReadColumn is the generic front end for Rows.Scan mentioned in the
// design notes: it dispatches on T via the driver's own Scan
// implementation rather than a separate converter registry, the same way
// database/sql dispatches Scan targets.
func ReadColumn[T any](rows Rows, i int) (T, error) {
	var dest T
	err := rows.Scan(i, &dest)
	return dest, err
}
