package browser

import (
	"context"
	"sync"
)

// actionLock serializes actions on one session. Waiters are served in
// arrival order, acquisition honors a context deadline, and TryLock never
// blocks.
type actionLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the lock is held or ctx is done.
func (l *actionLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Ownership was handed to us concurrently with cancellation.
		l.Unlock()
		return ctx.Err()
	}
}

// TryLock acquires the lock only if it is free and nobody is queued.
func (l *actionLock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held || len(l.waiters) > 0 {
		return false
	}
	l.held = true
	return true
}

// Unlock hands the lock to the oldest waiter, or frees it.
func (l *actionLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("browser: unlock of unlocked actionLock")
	}
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// Busy reports whether an action currently holds the lock.
func (l *actionLock) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
