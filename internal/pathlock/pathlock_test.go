package pathlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New(0)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "p1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	release1, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)
	defer release1()

	release2, err := l.Acquire(ctx, "p2")
	require.NoError(t, err)
	release2()
}

func TestLocker_TimeoutIsConflict(t *testing.T) {
	l := New(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "p1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "p1")
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	release() // second call is a no-op

	release, err = l.Acquire(ctx, "p1")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.Len())
}

func TestLocker_ContextCancel(t *testing.T) {
	l := New(time.Minute)

	release, err := l.Acquire(context.Background(), "p1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
}
