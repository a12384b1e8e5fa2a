package stmtcache

import (
	"context"

	"dbpool/driver"
)

// Rows is a forward cursor owned by a pool statement execution. Closing
// it returns the connection and driver statement it pinned back to the
// pool, per spec §4.4 step 5.
type Rows struct {
	raw     driver.Rows
	release func(broken bool)
	closed  bool
	lastErr error
}

func (r *Rows) Next(ctx context.Context) bool {
	ok := r.raw.Next(ctx)
	if !ok {
		r.lastErr = r.raw.Err()
	}
	return ok
}

func (r *Rows) Err() error { return r.raw.Err() }

func (r *Rows) ColumnCount() int { return r.raw.ColumnCount() }

func (r *Rows) ColumnName(i int) string { return r.raw.ColumnName(i) }

func (r *Rows) ColumnType(i int) string { return r.raw.ColumnType(i) }

func (r *Rows) Scan(i int, dest interface{}) error {
	err := r.raw.Scan(i, dest)
	if err != nil {
		r.lastErr = err
	}
	return err
}

// ReadColumn reads column i of r as T, the generic front end for column
// reads described in the design notes: Go has no per-method generics, so
// this is a free function dispatching to driver.ReadColumn on r's
// underlying cursor rather than a Rows method.
func ReadColumn[T any](r *Rows, i int) (T, error) {
	v, err := driver.ReadColumn[T](r.raw, i)
	if err != nil {
		r.lastErr = err
	}
	return v, err
}

// Close releases the underlying driver cursor and statement, then returns
// the connection to the pool. The connection is marked broken only if the
// cursor surfaced a driver-classified retryable error during its
// lifetime.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.raw.Close()
	broken := driver.IsRetryable(err) || driver.IsRetryable(r.lastErr)
	r.release(broken)
	return err
}
