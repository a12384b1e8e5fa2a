package refdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dbpool/driver"
)

// Tag is the one driver-specific extension value this reference driver
// recognizes beyond the framework's core Value kinds (spec §4.2,
// §9 "Driver-extensible argument types").
type Tag string

// Stmt is a prepared statement bound to one Conn. Its "query" is not
// SQL: it is one of a handful of opaque commands ("select <table>",
// "insert <table>", "fail") sufficient to drive the pool and statement
// cache through real traffic without a SQL engine.
type Stmt struct {
	conn  *Conn
	cmd   string
	table string
	query string
}

func parseCommand(query string) (cmd, table string) {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return "", ""
	}
	cmd = strings.ToLower(parts[0])
	if len(parts) > 1 {
		table = parts[1]
	}
	return cmd, table
}

func validateArgs(args []driver.Value) error {
	for _, a := range args {
		switch a.(type) {
		case nil, bool, int64, float64, string, []byte, time.Time, Tag:
			continue
		default:
			return &driver.UnsupportedParamType{Driver: "mem", Type: fmt.Sprintf("%T", a)}
		}
	}
	return nil
}

func (s *Stmt) Query(ctx context.Context, args []driver.Value) (driver.Rows, error) {
	if s.conn.driver.consumeFailure() {
		return nil, &driver.Error{Scheme: "mem", Message: "injected transient failure", Retryable: true}
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}
	if s.cmd != "select" {
		return nil, &driver.Error{Scheme: "mem", Message: fmt.Sprintf("%q is not a query command", s.cmd)}
	}
	rows, cols, types := s.conn.store.Snapshot(s.table)
	return &Rows{rows: rows, cols: cols, types: types}, nil
}

func (s *Stmt) Exec(ctx context.Context, args []driver.Value) (driver.ExecResult, error) {
	if s.conn.driver.consumeFailure() {
		return nil, &driver.Error{Scheme: "mem", Message: "injected transient failure", Retryable: true}
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}
	switch s.cmd {
	case "insert":
		id := s.conn.store.Insert(s.table, args)
		return &ExecResult{rowsAffected: 1, lastInsertID: id}, nil
	case "fail":
		return nil, driver.ErrBadConn
	default:
		return nil, &driver.Error{Scheme: "mem", Message: fmt.Sprintf("%q is not an exec command", s.cmd)}
	}
}

func (s *Stmt) Close() error { return nil }

// ExecResult is the outcome of an "insert" command.
type ExecResult struct {
	rowsAffected int64
	lastInsertID int64
}

func (e *ExecResult) RowsAffected() (int64, error) { return e.rowsAffected, nil }
func (e *ExecResult) LastInsertID() (int64, error) { return e.lastInsertID, nil }
