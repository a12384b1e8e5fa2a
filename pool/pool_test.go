package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbpool/driver"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) BuildStatement(ctx context.Context, query string) (driver.Stmt, error) {
	return nil, errors.New("fakeConn: not implemented")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func newFactory() (Factory, *int32Counter) {
	built := &int32Counter{}
	return func(ctx context.Context) (driver.Conn, error) {
		built.inc()
		return &fakeConn{}, nil
	}, built
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func testConfig() Config {
	return Config{
		InitialPoolSize: 0,
		MaxPoolSize:     1,
		MaxIdlePoolSize: 1,
		CheckoutTimeout: 100 * time.Millisecond,
		RetryAttempts:   1,
		RetryDelay:      5 * time.Millisecond,
	}
}

// S1: two concurrent checkouts against a pool with max=1, idle=1; the
// second waits for the first's release and gets the same connection.
func TestCheckoutWaitsForRelease(t *testing.T) {
	t.Parallel()
	factory, built := newFactory()
	cfg := testConfig()
	cfg.CheckoutTimeout = time.Second
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	first, err := p.Checkout(context.Background())
	require.NoError(t, err)

	var second *Conn
	done := make(chan struct{})
	start := time.Now()
	go func() {
		c, err := p.Checkout(context.Background())
		require.NoError(t, err)
		second = c
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	p.Release(first, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second checkout never returned")
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, built.get())
}

// S2: a saturated pool fails checkout with ErrTimeout after the
// configured checkout timeout elapses.
func TestCheckoutTimesOut(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.CheckoutTimeout = 50 * time.Millisecond
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Checkout(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Checkout(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

// A waiter that raced a Release (won the timeout/cancel branch of
// Checkout's select instead of receiving off w.ch) must not leak the
// connection Release already queued for it.
func TestReclaimRacedWaiterReturnsLeakedConn(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Checkout(context.Background())
	require.NoError(t, err)

	w := &waiter{ch: make(chan waitResult, 1)}
	w.ch <- waitResult{conn: c}

	p.reclaimRacedWaiter(w)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, stats.Total)
}

// S3: the pool grows up to max_pool_size across sequential
// checkout/release cycles and never beyond it.
func TestPoolGrowsUpToMax(t *testing.T) {
	t.Parallel()
	factory, built := newFactory()
	cfg := testConfig()
	cfg.MaxPoolSize = 2
	cfg.MaxIdlePoolSize = 2
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 3; i++ {
		c, err := p.Checkout(context.Background())
		require.NoError(t, err)
		p.Release(c, false)
	}

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Total, 2)
	assert.LessOrEqual(t, built.get(), 2)
}

// Invariant 1: in_use and available never exceed their configured bounds
// under concurrent checkout/release.
func TestBoundsHoldUnderConcurrency(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.MaxPoolSize = 4
	cfg.MaxIdlePoolSize = 4
	cfg.CheckoutTimeout = time.Second
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Checkout(context.Background())
			if err != nil {
				return
			}
			stats := p.Stats()
			assert.LessOrEqual(t, stats.InUse, cfg.MaxPoolSize)
			assert.LessOrEqual(t, stats.Available, cfg.MaxIdlePoolSize)
			time.Sleep(time.Millisecond)
			p.Release(c, false)
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, stats.Available, stats.Total)
}

// Invariant 4 (on Release): a broken connection is discarded and total
// drops to make room for a fresh connection.
func TestReleaseBrokenDiscards(t *testing.T) {
	t.Parallel()
	factory, built := newFactory()
	cfg := testConfig()
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Checkout(context.Background())
	require.NoError(t, err)
	p.Release(c, true)

	assert.Equal(t, 0, p.Stats().Total)

	c2, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, c2.ID)
	assert.Equal(t, 2, built.get())
}

func TestReleaseOfUnknownConnectionPanics(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	p, err := New(testConfig(), factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	stray := newConn(&fakeConn{})
	assert.Panics(t, func() { p.Release(stray, false) })
}

// S6-adjacent: CheckoutSome returns reused=true only for a candidate
// that is both alive and still sitting in the free set.
func TestCheckoutSomePrefersCandidate(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.MaxPoolSize = 2
	cfg.MaxIdlePoolSize = 2
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Checkout(context.Background())
	require.NoError(t, err)
	ref := p.WeakRefFor(c1)
	p.Release(c1, false)

	got, reused, err := p.CheckoutSome(context.Background(), []WeakRef{ref})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, c1.ID, got.ID)
	p.Release(got, false)
}

// Invariant 5: retry(body) invokes body at most k+1 times, and at least
// twice iff the first outcome was retryable.
func TestRetryHonorsAttemptBudget(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.RetryAttempts = 2
	cfg.RetryDelay = time.Millisecond
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	calls := 0
	err = p.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return driver.ErrBadConn
	})
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("not retryable")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

// Invariant 6: after Close, every subsequent Checkout fails with
// ErrClosed and releasing a previously-checked-out connection discards
// it instead of re-pooling it.
func TestCloseRejectsFurtherUse(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	p, err := New(testConfig(), factory, zeroLogger())
	require.NoError(t, err)

	c, err := p.Checkout(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Checkout(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	p.Release(c, false)
	assert.Equal(t, 0, p.Stats().Total)
}

func TestIdleCapDiscardsExcessOnRelease(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.MaxPoolSize = 0
	cfg.MaxIdlePoolSize = 1
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Checkout(context.Background())
	require.NoError(t, err)
	c2, err := p.Checkout(context.Background())
	require.NoError(t, err)

	p.Release(c1, false)
	p.Release(c2, false)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, stats.Total)
}

// Lowering the idle cap at runtime should immediately trim idle
// connections down to the new bound, oldest-released first.
func TestSetMaxIdlePoolSizeTrimsExistingIdle(t *testing.T) {
	t.Parallel()
	factory, _ := newFactory()
	cfg := testConfig()
	cfg.MaxPoolSize = 0
	cfg.MaxIdlePoolSize = 3
	p, err := New(cfg, factory, zeroLogger())
	require.NoError(t, err)
	defer p.Close()

	conns := make([]*Conn, 0, 3)
	for i := 0; i < 3; i++ {
		c, err := p.Checkout(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		p.Release(c, false)
	}
	require.Equal(t, 3, p.Stats().Available)

	trimmed := p.SetMaxIdlePoolSize(1)
	assert.Equal(t, 2, trimmed)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, stats.Total)
}
