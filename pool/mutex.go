//go:build !poollockdebug

package pool

import "sync"

// poolMutex guards all pool-internal state per spec §5. The default
// build uses a plain sync.Mutex; building with -tags poollockdebug swaps
// in a deadlock-detecting variant (see mutex_deadlock.go) for catching
// lock-ordering mistakes while extending the pool.
type poolMutex struct {
	sync.Mutex
}
