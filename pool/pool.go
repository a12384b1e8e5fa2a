// Package pool implements the bounded connection pool at the center of
// the framework: checkout/release with idle and total caps, FIFO
// waiters, a checkout-timeout SLA, a preferred-connection checkout used by
// the statement cache, and a retry wrapper around driver-classified
// transient failures.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"dbpool/driver"
)

// ErrTimeout is returned by Checkout when the pool is saturated and no
// connection becomes available within Config.CheckoutTimeout.
var ErrTimeout = errors.New("pool: checkout timed out")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("pool: closed")

// Config is the bounded-pool knob set described in spec §3. All fields are
// read once at construction, except MaxIdlePoolSize, which
// SetMaxIdlePoolSize can change at runtime.
type Config struct {
	InitialPoolSize int
	MaxPoolSize     int // 0 means unbounded
	MaxIdlePoolSize int
	CheckoutTimeout time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// DefaultConfig mirrors the defaults in spec §3's option table.
func DefaultConfig() Config {
	return Config{
		InitialPoolSize: 1,
		MaxPoolSize:     1,
		MaxIdlePoolSize: 1,
		CheckoutTimeout: 5 * time.Second,
		RetryAttempts:   1,
		RetryDelay:      time.Second,
	}
}

// Factory builds one new driver connection. Supplied by the facade, which
// closes over the driver and the database handle.
type Factory func(ctx context.Context) (driver.Conn, error)

type waitResult struct {
	conn *Conn
	err  error
}

type waiter struct {
	ch chan waitResult
}

// Pool is a bounded multiset of connections guarded by a single mutex, as
// required by spec §5: all shared state lives behind it, and no framework
// operation other than Checkout and Retry may suspend while holding it.
type Pool struct {
	cfg     Config
	factory Factory
	log     zerolog.Logger

	mu      poolMutex
	closed  bool
	total   int
	free    []*Conn
	waiters *list.List // of *waiter, front = longest-waiting

	arena   *arena
	idleLRU *lru.Cache
}

// New constructs a pool and eagerly builds Config.InitialPoolSize
// connections, returning the first construction error encountered.
func New(cfg Config, factory Factory, log zerolog.Logger) (*Pool, error) {
	idleCap := cfg.MaxIdlePoolSize
	if idleCap <= 0 {
		idleCap = 1
	}
	lruCache, err := lru.New(idleCap)
	if err != nil {
		return nil, fmt.Errorf("pool: building idle index: %w", err)
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		log:     log,
		waiters: list.New(),
		arena:   newArena(),
		idleLRU: lruCache,
	}

	for i := 0; i < cfg.InitialPoolSize; i++ {
		conn, err := p.buildInitial(context.Background())
		if err != nil {
			return p, fmt.Errorf("pool: building initial connection %d/%d: %w", i+1, cfg.InitialPoolSize, err)
		}
		p.releaseInternal(conn, false)
	}
	return p, nil
}

// buildInitial creates a brand-new connection outside the pool mutex and
// registers it with the arena. It counts the connection in total but does
// not add it to free; callers decide how the connection enters pool state.
func (p *Pool) buildInitial(ctx context.Context) (*Conn, error) {
	raw, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	c := newConn(raw)
	c.state = StateInUse
	p.arena.register(c.ID)
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return c, nil
}

// Checkout returns an available connection, growing the pool if capacity
// allows, or blocks until a release wakes it, or Config.CheckoutTimeout
// elapses.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	if n := len(p.free); n > 0 {
		c := p.free[0]
		p.free = p.free[1:]
		p.idleLRU.Remove(c.ID)
		c.state = StateInUse
		p.mu.Unlock()
		return c, nil
	}

	if p.cfg.MaxPoolSize <= 0 || p.total < p.cfg.MaxPoolSize {
		grownTotal := p.total + 1
		p.total++
		p.mu.Unlock()
		raw, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.log.Warn().Err(err).Msg("failed to grow pool")
			return nil, err
		}
		c := newConn(raw)
		c.state = StateInUse
		p.arena.register(c.ID)
		p.log.Debug().Str("conn_id", c.ID.String()).Int("total", grownTotal).Msg("grew pool")
		return c, nil
	}

	w := &waiter{ch: make(chan waitResult, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timeout := p.cfg.CheckoutTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().CheckoutTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-timer.C:
		p.mu.Lock()
		p.waiters.Remove(elem)
		p.mu.Unlock()
		p.reclaimRacedWaiter(w)
		p.log.Warn().Dur("timeout", timeout).Msg("checkout timed out")
		return nil, ErrTimeout
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(elem)
		p.mu.Unlock()
		p.reclaimRacedWaiter(w)
		return nil, ctx.Err()
	}
}

// reclaimRacedWaiter drains w.ch without blocking. A concurrent Release
// may have already popped this waiter and sent it a connection in the
// instant before the timeout/cancel branch won the select race above; if
// so, that connection was never going to be received by the caller, so it
// is released back to the pool here instead of being leaked.
func (p *Pool) reclaimRacedWaiter(w *waiter) {
	select {
	case res := <-w.ch:
		if res.conn != nil {
			p.releaseInternal(res.conn, false)
		}
	default:
	}
}

// CheckoutSome implements the statement cache's preferred checkout: the
// first candidate that is still alive and currently sitting in the free
// set is handed back with reused=true. The candidate scan and its
// removal from the free set happen under the same lock acquisition, so no
// other checkout can observe or take the same connection in between.
func (p *Pool) CheckoutSome(ctx context.Context, candidates []WeakRef) (*Conn, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrClosed
	}
	for _, cand := range candidates {
		if !p.arena.alive(cand) {
			continue
		}
		for i, c := range p.free {
			if c.ID == cand.ConnID {
				p.free = append(p.free[:i], p.free[i+1:]...)
				p.idleLRU.Remove(c.ID)
				c.state = StateInUse
				p.mu.Unlock()
				return c, true, nil
			}
		}
	}
	p.mu.Unlock()

	conn, err := p.Checkout(ctx)
	return conn, false, err
}

// Release returns a connection to the pool. broken marks it as unfit for
// reuse (a transient fault was observed on it); such connections are
// discarded rather than pooled, and total is decremented to make room for
// a fresh connection on the next checkout.
//
// Releasing a connection this pool did not hand out is a programmer
// error and panics, matching the source's treatment of the same misuse.
func (p *Pool) Release(c *Conn, broken bool) {
	p.releaseInternal(c, broken)
}

func (p *Pool) releaseInternal(c *Conn, broken bool) {
	p.mu.Lock()
	if !p.arena.known(c.ID) || (c.state != StateInUse && c.state != StateBuilding) {
		p.mu.Unlock()
		panic("pool: release of connection that was never checked out")
	}

	if p.closed {
		c.state = StateDiscarded
		p.total--
		p.mu.Unlock()
		p.arena.invalidate(c.ID)
		c.raw.Close()
		return
	}

	if broken || c.broken {
		c.state = StateDiscarded
		p.total--
		p.mu.Unlock()
		p.arena.invalidate(c.ID)
		c.raw.Close()
		p.log.Warn().Str("conn_id", c.ID.String()).Msg("discarding connection marked broken")
		return
	}

	if w := p.popWaiterLocked(); w != nil {
		c.state = StateInUse
		p.mu.Unlock()
		w.ch <- waitResult{conn: c}
		return
	}

	idleCap := p.cfg.MaxIdlePoolSize
	if idleCap <= 0 {
		idleCap = 1
	}
	if len(p.free) >= idleCap {
		c.state = StateDiscarded
		p.total--
		p.mu.Unlock()
		p.arena.invalidate(c.ID)
		c.raw.Close()
		p.log.Debug().Str("conn_id", c.ID.String()).Int("idle_cap", idleCap).Msg("discarding connection over idle cap")
		return
	}

	c.state = StateAvailable
	p.free = append(p.free, c)
	p.idleLRU.Add(c.ID, c)
	p.mu.Unlock()
}

// popWaiterLocked pops and returns the longest-waiting waiter, or nil.
// Must be called with p.mu held.
func (p *Pool) popWaiterLocked() *waiter {
	elem := p.waiters.Front()
	if elem == nil {
		return nil
	}
	p.waiters.Remove(elem)
	return elem.Value.(*waiter)
}

// EachResource applies visit to every currently-available connection. It
// holds the pool mutex for the duration, so visit must not call back into
// the pool (that would deadlock on the mutex EachResource already holds).
func (p *Pool) EachResource(visit func(*Conn)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.free {
		visit(c)
	}
}

// Retry runs body, re-running it up to Config.RetryAttempts additional
// times if it fails with an error the driver classified as retryable.
// Non-retryable errors propagate on the first attempt. When attempts are
// exhausted, the last underlying error is returned unwrapped.
func (p *Pool) Retry(ctx context.Context, body func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.cfg.RetryAttempts; attempt++ {
		err = body(ctx)
		if err == nil {
			return nil
		}
		if !driver.IsRetryable(err) {
			return err
		}
		if attempt < p.cfg.RetryAttempts {
			p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("retrying after retryable error")
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// IsAlive reports whether the connection id named by ref still belongs to
// a connection this pool has not discarded.
func (p *Pool) IsAlive(ref WeakRef) bool {
	return p.arena.alive(ref)
}

// WeakRefFor produces the WeakRef the statement cache should retain for c.
func (p *Pool) WeakRefFor(c *Conn) WeakRef {
	return WeakRef{ConnID: c.ID, Generation: 1}
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Total     int
	Available int
	InUse     int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     p.total,
		Available: len(p.free),
		InUse:     p.total - len(p.free),
	}
}

// SetMaxIdlePoolSize lowers or raises the pool's idle cap at runtime and,
// if the new cap is smaller than the current idle count, immediately
// trims the least-recently-released idle connections down to it, per the
// idle-LRU enrichment in SPEC_FULL.md §3. Returns the number of
// connections trimmed.
func (p *Pool) SetMaxIdlePoolSize(n int) int {
	p.mu.Lock()
	p.cfg.MaxIdlePoolSize = n
	idleCap := n
	if idleCap <= 0 {
		idleCap = 1
	}
	over := len(p.free) - idleCap
	p.mu.Unlock()
	if over <= 0 {
		return 0
	}
	return p.TrimIdle(over)
}

// TrimIdle discards up to n of the least-recently-released idle
// connections, oldest first, per the idle-LRU enrichment described in
// SPEC_FULL.md. Used when an operator lowers the idle cap at runtime.
func (p *Pool) TrimIdle(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	trimmed := 0
	for trimmed < n {
		key, _, ok := p.idleLRU.RemoveOldest()
		if !ok {
			break
		}
		id, ok := key.(uuid.UUID)
		if !ok {
			continue
		}
		idx := -1
		for i, c := range p.free {
			if c.ID == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		c := p.free[idx]
		p.free = append(p.free[:idx], p.free[idx+1:]...)
		c.state = StateDiscarded
		p.total--
		p.arena.invalidate(c.ID)
		c.raw.Close()
		p.log.Debug().Str("conn_id", c.ID.String()).Msg("trimmed idle connection")
		trimmed++
	}
	return trimmed
}

// Close quiesces the pool: no new checkouts succeed, every idle
// connection is closed, and waiters are woken with ErrClosed. Outstanding
// checkouts are not forcibly reclaimed; each is discarded as it is
// released, since Release sees closed and discards on the next call —
// this is the documented "abort" variant spec §4.3 leaves
// implementation-defined.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		w := elem.Value.(*waiter)
		w.ch <- waitResult{err: ErrClosed}
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, c := range free {
		c.state = StateDiscarded
		p.arena.invalidate(c.ID)
		c.raw.Close()
	}
	return nil
}
