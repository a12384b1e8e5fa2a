//go:build poollockdebug

package pool

import deadlock "github.com/sasha-s/go-deadlock"

// poolMutex under -tags poollockdebug reports lock-ordering cycles and
// held-too-long locks to stderr instead of hanging silently.
type poolMutex struct {
	deadlock.Mutex
}
