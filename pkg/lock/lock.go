// Package lock provides keyed mutual exclusion that can span service replicas.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock could not be obtained before the wait expired.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires exclusive ownership of a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// Leased is implemented by lockers whose hold expires on its own after TTL.
// Callers should finish the locked section within TTL of Acquire returning.
type Leased interface {
	TTL() time.Duration
}

// MemoryLocker serialises keys within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	wait  time.Duration
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker builds an in-process locker. wait bounds how long Acquire
// blocks; zero means until ctx is done.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{wait: wait, slots: make(map[string]*slot)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.release(key, s, true) })
		return nil
	}, nil
}

func (l *MemoryLocker) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// NoopLocker never blocks. It backs the parity consistency mode.
type NoopLocker struct{}

// Acquire implements Locker.
func (NoopLocker) Acquire(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}
