package refdriver

import (
	"context"
	"time"

	"dbpool/driver"
)

// Rows is a snapshot cursor over one table's rows at the moment the
// query executed; later inserts are not visible to an open cursor.
type Rows struct {
	rows  []row
	cols  []string
	types []string
	idx   int
	cur   row
}

func (r *Rows) Next(ctx context.Context) bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.cur = r.rows[r.idx]
	r.idx++
	return true
}

func (r *Rows) Err() error { return nil }

func (r *Rows) ColumnCount() int { return len(r.cols) }

func (r *Rows) ColumnName(i int) string { return r.cols[i] }

// ColumnType reports the Go runtime type recorded for column i at the
// table's first insert (e.g. "int64", "string", or "nil" when that first
// value was nil), or "unknown" when i is outside the first row's columns.
func (r *Rows) ColumnType(i int) string {
	if i < 0 || i >= len(r.types) || r.types[i] == "" {
		return "unknown"
	}
	return r.types[i]
}

func (r *Rows) Scan(i int, dest interface{}) error {
	if r.cur == nil {
		return &driver.Error{Scheme: "mem", Message: "Scan called before Next"}
	}
	if i < 0 || i >= len(r.cur) {
		return &driver.Error{Scheme: "mem", Message: "column index out of range"}
	}
	v := r.cur[i]

	switch d := dest.(type) {
	case *driver.Value:
		*d = v
		return nil
	case *string:
		s, ok := v.(string)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "string"}
		}
		*d = s
		return nil
	case *int64:
		n, ok := v.(int64)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "int64"}
		}
		*d = n
		return nil
	case *float64:
		f, ok := v.(float64)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "float64"}
		}
		*d = f
		return nil
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "bool"}
		}
		*d = b
		return nil
	case *[]byte:
		b, ok := v.([]byte)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "[]byte"}
		}
		*d = b
		return nil
	case *time.Time:
		t, ok := v.(time.Time)
		if !ok {
			return &driver.UnsupportedReadType{Driver: "mem", Type: "time.Time"}
		}
		*d = t
		return nil
	default:
		return &driver.UnsupportedReadType{Driver: "mem", Type: "unknown scan target"}
	}
}

func (r *Rows) Close() error { return nil }
