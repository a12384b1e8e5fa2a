package refdriver

import (
	"fmt"
	"sync"

	"dbpool/driver"
)

type row []driver.Value

type table struct {
	columns []string
	types   []string
	rows    []row
}

// Store is the in-memory backing state shared by every connection a
// Driver builds. It has no notion of SQL; tables are addressed by name
// and rows are positional value tuples, just enough structure to drive
// the pool and statement cache through real query/exec traffic.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*table)}
}

// Insert appends args as a new row of name, creating the table (and its
// column names) on first use. Returns the 1-based row number, standing
// in for a last-insert-id.
func (s *Store) Insert(name string, args []driver.Value) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		t = &table{columns: columnNames(len(args)), types: columnTypes(args)}
		s.tables[name] = t
	}
	r := make(row, len(args))
	copy(r, args)
	t.rows = append(t.rows, r)
	return int64(len(t.rows))
}

// Snapshot returns a copy of name's rows, column names and column types,
// so that a concurrent insert cannot mutate a Rows cursor already
// iterating it.
func (s *Store) Snapshot(name string) ([]row, []string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return nil, nil, nil
	}
	rows := make([]row, len(t.rows))
	copy(rows, t.rows)
	cols := make([]string, len(t.columns))
	copy(cols, t.columns)
	types := make([]string, len(t.types))
	copy(types, t.types)
	return rows, cols, types
}

func columnNames(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	return cols
}

// columnTypes derives each column's reported type from the Go runtime
// type of the first row's values, the same way columnNames derives
// placeholder names from argument count at first insert.
func columnTypes(args []driver.Value) []string {
	types := make([]string, len(args))
	for i, v := range args {
		if v == nil {
			types[i] = "nil"
			continue
		}
		types[i] = fmt.Sprintf("%T", v)
	}
	return types
}
