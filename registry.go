package dbpool

import (
	cmap "github.com/orcaman/concurrent-map"

	"dbpool/driver"
)

// registry is the process-wide scheme -> driver factory map from spec
// §4.1. A concurrent map is used instead of a mutex-guarded one so that
// the read-heavy path (opening databases from many goroutines) does not
// contend on registration, which happens rarely and usually only at
// process start.
var registry = cmap.New()

// Register makes a driver available under scheme. Registering twice for
// the same scheme, or registering a nil driver, is a programmer error and
// panics — mirroring database/sql's treatment of the same misuse.
func Register(scheme string, d driver.Driver) {
	if d == nil {
		panic("dbpool: Register driver is nil")
	}
	if registry.Has(scheme) {
		panic("dbpool: Register called twice for scheme " + scheme)
	}
	registry.Set(scheme, d)
}

func lookupDriver(scheme string) (driver.Driver, bool) {
	v, ok := registry.Get(scheme)
	if !ok {
		return nil, false
	}
	return v.(driver.Driver), true
}

// Schemes returns the currently registered scheme names.
func Schemes() []string {
	out := make([]string, 0, registry.Count())
	for item := range registry.IterBuffered() {
		out = append(out, item.Key)
	}
	return out
}
