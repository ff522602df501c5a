package syncx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/task"
)

func TestSemaphoreNonBlockingAcquireFails(t *testing.T) {
	h := newTestHub(t)
	sem := NewSemaphore(h, 0)
	ok, err := sem.Acquire(false, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSemaphoreFIFOOrder(t *testing.T) {
	h := newTestHub(t)
	sem := NewSemaphore(h, 1)
	ok, _ := sem.Acquire(true, 0)
	require.True(t, ok)

	var order []int

	for i := 1; i <= 3; i++ {
		i := i
		task.Spawn(h, func(*task.Task) (any, error) {
			ok, err := sem.Acquire(true, 0)
			require.NoError(t, err)
			require.True(t, ok)
			order = append(order, i)
			if len(order) == 3 {
				h.Stop()
			}
			return nil, nil
		})
	}

	task.Spawn(h, func(*task.Task) (any, error) {
		sem.Release()
		sem.Release()
		sem.Release()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSemaphoreAcquireTimesOut(t *testing.T) {
	h := newTestHub(t)
	sem := NewSemaphore(h, 0)

	var ok bool
	var err error
	task.Spawn(h, func(*task.Task) (any, error) {
		ok, err = sem.Acquire(true, 15*time.Millisecond)
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 0, sem.Available())
}

func TestBoundedSemaphoreOverflowPanics(t *testing.T) {
	h := newTestHub(t)
	sem := NewBoundedSemaphore(h, 1)
	assert.PanicsWithValue(t, errs.ErrOverflow, func() { sem.Release() })
}

func TestCancelledAcquireLeavesNoStaleWaiter(t *testing.T) {
	h := newTestHub(t)
	sem := NewSemaphore(h, 0)

	blocked := task.Spawn(h, func(*task.Task) (any, error) {
		_, err := sem.Acquire(true, 0)
		return nil, err
	})

	task.Spawn(h, func(*task.Task) (any, error) {
		blocked.Kill(nil)
		_, err := blocked.Wait()
		require.ErrorIs(t, err, errs.ErrCancelled)
		sem.Release()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.Equal(t, 1, sem.Available())
}
