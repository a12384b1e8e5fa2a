package dbpool

import (
	"errors"
	"fmt"

	"dbpool/pool"
)

// Boundary error kinds from spec §6. PoolTimeout and PoolClosed alias the
// pool package's sentinels so callers can errors.Is against either the
// dbpool or pool name.
var (
	ErrUnknownScheme = errors.New("dbpool: unknown scheme")
	ErrPoolTimeout   = pool.ErrTimeout
	ErrPoolClosed    = pool.ErrClosed
)

// unknownSchemeError carries the offending scheme while still satisfying
// errors.Is(err, ErrUnknownScheme).
type unknownSchemeError struct {
	scheme string
}

func (e *unknownSchemeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownScheme, e.scheme)
}

func (e *unknownSchemeError) Is(target error) bool {
	return target == ErrUnknownScheme
}

// TypeMismatchError describes a column whose wire type cannot satisfy the
// requested Go type. Nothing in this module returns it: Scalar reads into
// a driver.Value, and Rows.Scan and ReadColumn report a mismatch with the
// error the driver's Scan returns (driver.UnsupportedReadType for the
// reference driver).
type TypeMismatchError struct {
	Column string
	Want   string
	Got    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("dbpool: column %q: want %s, got %s", e.Column, e.Want, e.Got)
}
