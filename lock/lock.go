package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the timeout.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Release gives a held lock back. It is safe to call more than once.
type Release func()

// Locker provides per-key mutual exclusion bounded by a timeout.
type Locker interface {
	// Acquire blocks until key is held, timeout elapses (ErrLockTimeout) or
	// ctx is done (ctx.Err()).
	Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error)
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes holders of the same key within one process.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error) {
	e := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
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
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

// Held reports the number of keys currently held or awaited.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
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
