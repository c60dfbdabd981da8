package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/errors"
	testutil "github.com/xtxerr/nrcsync/internal/testing"
)

func TestAcquireRelease(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "rd0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, k.Len())

	release()
	release()
	assert.Equal(t, 0, k.Len())
}

func TestTimeout(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "rd0", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = k.Acquire(context.Background(), "rd0", 20*time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))
	assert.True(t, errors.IsRetriable(err))
	assert.Equal(t, 1, k.Len(), "timed out waiter leaves no entry behind")
}

func TestContextCancel(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "rd0", 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Acquire(ctx, "rd0", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, errors.ErrLockTimeout))
}

func TestKeysAreIndependent(t *testing.T) {
	k := NewKeyed()

	r0, err := k.Acquire(context.Background(), "rd0", time.Second)
	require.NoError(t, err)
	defer r0()

	r1, err := k.Acquire(context.Background(), "rd1", 10*time.Millisecond)
	require.NoError(t, err)
	r1()
}

func TestMutualExclusion(t *testing.T) {
	k := NewKeyed()
	gt := testutil.NewGoroutineTestWithTimeout(t, 10*time.Second)
	defer gt.Wait()

	var inside, maxInside atomic.Int32
	var mu sync.Mutex
	var order []int

	for i := 0; i < 20; i++ {
		gt.GoWithContext(func(ctx context.Context) error {
			release, err := k.Acquire(ctx, "rd0", 5*time.Second)
			if err != nil {
				return err
			}
			defer release()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			return nil
		})
	}

	require.NoError(t, testutil.Eventually(5*time.Second, 5*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}))
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestFIFO(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "rd0", 0)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		go func(i int) {
			r, err := k.Acquire(context.Background(), "rd0", 0)
			if err == nil {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				r()
			}
			done <- struct{}{}
		}(i)
		// Let each waiter queue before starting the next.
		time.Sleep(20 * time.Millisecond)
	}

	release()
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, 0, k.Len())
}
