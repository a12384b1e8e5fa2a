package pool

import (
	"sync"

	"github.com/google/uuid"
)

// WeakRef is a non-owning reference to a pooled connection, as described
// in design note "Weak references to driver statements": a connection id
// plus a generation counter. Go has no native weak pointers, so the
// statement cache stores these instead of *Conn and asks the arena
// whether they still resolve to a live connection before trusting them.
type WeakRef struct {
	ConnID     uuid.UUID
	Generation uint64
}

type arenaEntry struct {
	generation uint64
	alive      bool
}

// arena tracks liveness of every connection id the pool has ever handed
// out, independent of whether that connection currently sits in the free
// set, is checked out, or has been discarded.
type arena struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*arenaEntry
}

func newArena() *arena {
	return &arena{entries: make(map[uuid.UUID]*arenaEntry)}
}

// register records a newly built connection as alive, generation 1.
func (a *arena) register(id uuid.UUID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := &arenaEntry{generation: 1, alive: true}
	a.entries[id] = e
	return e.generation
}

// invalidate marks a connection discarded. Existing WeakRefs pointing at
// it will fail the liveness check on their next lookup; this never
// touches anything the statement cache owns directly, which is how the
// "pruning never closes a live driver statement" invariant holds — by the
// time a ref is stale, its connection is already gone.
func (a *arena) invalidate(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[id]; ok {
		e.alive = false
	}
}

// alive reports whether ref still resolves to a connection the pool
// considers live, at the generation it was issued.
func (a *arena) alive(ref WeakRef) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[ref.ConnID]
	return ok && e.alive && e.generation == ref.Generation
}

// known reports whether id was ever registered with this arena, live or
// not. Used to tell a connection the pool actually built from a stray
// Conn value a caller constructed and tried to release.
func (a *arena) known(id uuid.UUID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[id]
	return ok
}

// forget drops bookkeeping for an id entirely. Safe to call repeatedly.
func (a *arena) forget(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, id)
}
