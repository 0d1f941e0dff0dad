package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSerialisesKey(t *testing.T) {
	l := NewMemoryLocker(0)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Acquire(context.Background(), "CS101")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, unlock(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, l.slots)
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	l := NewMemoryLocker(50 * time.Millisecond)

	unlockA, err := l.Acquire(context.Background(), "CS101")
	require.NoError(t, err)
	unlockB, err := l.Acquire(context.Background(), "MA201")
	require.NoError(t, err)

	require.NoError(t, unlockA(context.Background()))
	require.NoError(t, unlockB(context.Background()))
}

func TestMemoryLockerWaitExpires(t *testing.T) {
	l := NewMemoryLocker(10 * time.Millisecond)

	unlock, err := l.Acquire(context.Background(), "CS101")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "CS101")
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()), "double unlock is a no-op")

	unlock, err = l.Acquire(context.Background(), "CS101")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}

func TestNoopLocker(t *testing.T) {
	unlock, err := NoopLocker{}.Acquire(context.Background(), "CS101")
	require.NoError(t, err)
	assert.NoError(t, unlock(context.Background()))
}

func TestRedisLockerIsLeased(t *testing.T) {
	var l Locker = NewRedisLocker(nil, 0, 0)
	leased, ok := l.(Leased)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, leased.TTL())

	assert.Equal(t, 3*time.Second, NewRedisLocker(nil, 3*time.Second, 0).TTL())

	_, ok = Locker(NewMemoryLocker(0)).(Leased)
	assert.False(t, ok)
}
