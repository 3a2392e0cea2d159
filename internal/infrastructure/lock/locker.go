package lock

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout means the key stayed held by someone else for the whole
	// acquisition window. Callers may retry.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	ErrNotHeld     = errors.New("lock not held")
)

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Locker grants mutual exclusion per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// FloatKey is the lock key of one float balance row.
func FloatKey(shopID, providerID, category string) string {
	return fmt.Sprintf("float:%s:%s:%s", shopID, providerID, category)
}

// CashKey is the lock key of a shop's cash balance row.
func CashKey(shopID string) string {
	return "cash:" + shopID
}

// AcquireAll takes keys in the given order. If any acquisition fails the
// keys already held are released in reverse order. Callers pass float keys
// before the cash key so that every operation agrees on the order.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (Release, error) {
	releases := make([]Release, 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
