package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed lock table. Each key owns a one-slot
// channel; entries are reference counted and dropped once nobody holds or
// waits for them, so the table does not grow with the number of keys seen.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	timeout time.Duration
}

type localEntry struct {
	slot chan struct{}
	refs int
}

// NewLocalLocker returns a locker whose Acquire waits at most timeout.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*localEntry),
		timeout: timeout,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	e := l.ref(key)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.unref(key, e)
		})
	}, nil
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size reports how many keys are currently tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
