package pool

import (
	"time"

	"github.com/google/uuid"

	"dbpool/driver"
)

// State is where a pooled connection sits in the lifecycle described in
// spec §4.3: Building -> Available <-> InUse -> Discarded.
type State int

const (
	StateBuilding State = iota
	StateAvailable
	StateInUse
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateAvailable:
		return "available"
	case StateInUse:
		return "in_use"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Conn is the pool's wrapper around a driver connection. A Conn has no
// lock of its own: its state field is maintained by the pool, and its
// other fields are only ever touched by whichever goroutine currently
// holds its checkout.
type Conn struct {
	ID        uuid.UUID
	raw       driver.Conn
	createdAt time.Time

	state   State
	broken  bool
}

func newConn(raw driver.Conn) *Conn {
	return &Conn{
		ID:        uuid.New(),
		raw:       raw,
		createdAt: time.Now(),
		state:     StateBuilding,
	}
}

// Raw returns the underlying driver connection.
func (c *Conn) Raw() driver.Conn { return c.raw }

// MarkBroken flags the connection as unfit for reuse. Release will discard
// it instead of returning it to the free set.
func (c *Conn) MarkBroken() { c.broken = true }

// CreatedAt reports when the connection was established.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }
