// Package lock provides named mutual exclusion that is visible across
// processes and machines. Acquisition never blocks: a held lock means
// another instance is doing the work.
package lock

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"
)

// Locker acquires named cross-instance locks.
type Locker interface {
	// TryAcquire returns acquired=false without error when another holder has
	// the key. ttl bounds how long a crashed holder can keep the lock where the
	// backend supports expiry. release is safe to call more than once.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// KeyID maps a lock key to a 64-bit id. Numeric keys are used verbatim so
// deployments can share an integer key with other tooling; anything else is
// hashed with FNV-1a.
func KeyID(key string) int64 {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return id
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
