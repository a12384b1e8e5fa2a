package refdriver

import (
	"context"

	"dbpool/driver"
)

// Conn is one session against a Driver's shared Store. Nothing about it
// is actually stateful beyond validity; all data lives in the Store.
type Conn struct {
	driver *Driver
	store  *Store
	closed bool
	valid  bool
}

func (c *Conn) BuildStatement(ctx context.Context, query string) (driver.Stmt, error) {
	if !c.valid || c.closed {
		return nil, driver.ErrBadConn
	}
	cmd, table := parseCommand(query)
	if cmd == "" {
		return nil, &driver.Error{Scheme: "mem", Message: "empty query"}
	}
	return &Stmt{conn: c, cmd: cmd, table: table, query: query}, nil
}

func (c *Conn) Close() error {
	c.closed = true
	c.valid = false
	return nil
}

func (c *Conn) IsValid() bool { return c.valid && !c.closed }
