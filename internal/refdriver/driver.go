// Package refdriver is an in-memory, in-process implementation of the
// dbpool/driver contract set. It backs the facade's tests and the
// cmd/poolctl harness so that the pool, the statement cache and the
// Database facade can be exercised end-to-end without a real database.
package refdriver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"dbpool"
	"dbpool/driver"
)

// Driver is a registrable dbpool driver.Driver backed by a single Store.
// One Driver instance models one logical database: every connection it
// builds shares the same table data.
type Driver struct {
	store   *Store
	latency time.Duration

	// failNext counts down operations across every connection built by
	// this driver that should fail with a retryable error, for fault
	// injection in tests (spec scenario S4).
	failNext int32
}

// New returns a Driver with an empty Store.
func New() *Driver {
	return &Driver{store: NewStore()}
}

// PoolOptions delegates the six framework-recognized params to
// dbpool.ParsePoolConfig, then reads its own "latency_ms" extension out
// of what remains.
func (d *Driver) PoolOptions(params url.Values) (driver.PoolConfig, error) {
	cfg, remaining, err := dbpool.ParsePoolConfig(params)
	if err != nil {
		return driver.PoolConfig{}, err
	}
	if v := remaining.Get("latency_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return driver.PoolConfig{}, fmt.Errorf("refdriver: latency_ms: %w", err)
		}
		d.latency = time.Duration(ms) * time.Millisecond
	}
	return driver.PoolConfig{
		InitialPoolSize: cfg.InitialPoolSize,
		MaxPoolSize:     cfg.MaxPoolSize,
		MaxIdlePoolSize: cfg.MaxIdlePoolSize,
		CheckoutTimeout: cfg.CheckoutTimeout,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
	}, nil
}

// BuildConnection builds a Conn against this Driver's Store, waiting out
// the configured injected latency first.
func (d *Driver) BuildConnection(ctx context.Context, db driver.DatabaseHandle) (driver.Conn, error) {
	if d.latency > 0 {
		select {
		case <-time.After(d.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Conn{driver: d, store: d.store, valid: true}, nil
}

// FailNext arms the next n Query/Exec calls across every connection this
// driver has built to fail with a retryable error, then stop failing.
// Used to script scenario S4 ("driver throws retryable once").
func (d *Driver) FailNext(n int) {
	atomic.StoreInt32(&d.failNext, int32(n))
}

func (d *Driver) consumeFailure() bool {
	for {
		v := atomic.LoadInt32(&d.failNext)
		if v <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&d.failNext, v, v-1) {
			return true
		}
	}
}
