package driver

import (
	"errors"
	"fmt"
)

// ErrBadConn is returned by a Conn or Stmt method to signal that the
// underlying connection is broken and should be discarded rather than
// returned to the pool. It is always retryable.
var ErrBadConn = errors.New("driver: bad connection")

// Error is a driver-specific failure wrapped for the framework boundary.
// Retryable marks faults a fresh connection and a re-issued operation can
// plausibly recover from (lost TCP, server restart, transient auth
// failure); everything else propagates to the caller unchanged.
type Error struct {
	Scheme    string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Scheme, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Scheme, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether err was classified by a driver as
// recoverable by re-establishing a connection and re-issuing the
// operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBadConn) {
		return true
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// UnsupportedParamType is returned by a driver's Stmt when it is handed an
// argument Value whose dynamic type it does not recognize.
type UnsupportedParamType struct {
	Driver string
	Type   string
}

func (e *UnsupportedParamType) Error() string {
	return fmt.Sprintf("%s: unsupported parameter type %s", e.Driver, e.Type)
}

// UnsupportedReadType is returned by Rows.Scan when asked to produce a Go
// type the driver has no conversion for.
type UnsupportedReadType struct {
	Driver string
	Type   string
}

func (e *UnsupportedReadType) Error() string {
	return fmt.Sprintf("%s: unsupported read type %s", e.Driver, e.Type)
}
