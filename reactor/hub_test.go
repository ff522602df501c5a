package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	t.Setenv(BackendEnv, BackendFallback)
	h, err := NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// spawnBare is a minimal stand-in for task.Spawn, used so reactor's own
// tests don't need to import the task package (which imports reactor).
func spawnBare(h *Hub, f func()) *Baton {
	b := NewBaton()
	go func() {
		b.AwaitTurn()
		f()
		b.Yield()
	}()
	h.ScheduleNow(func() { h.ResumeAndWait(b) })
	return b
}

func TestScheduleNowRunsNextIteration(t *testing.T) {
	h := newTestHub(t)
	var order []int

	spawnBare(h, func() {
		order = append(order, 1)
		h.ScheduleNow(func() {
			order = append(order, 3)
			h.Stop()
		})
		order = append(order, 2)
	})

	require.NoError(t, h.Run())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerFireOrder(t *testing.T) {
	h := newTestHub(t)
	var order []int

	done := make(chan struct{})
	count := 0
	record := func(id int) func() {
		return func() {
			order = append(order, id)
			count++
			if count == 3 {
				close(done)
				h.Stop()
			}
		}
	}

	h.ScheduleAt(10*time.Millisecond, record(1))
	h.ScheduleAt(5*time.Millisecond, record(2))
	h.ScheduleAt(5*time.Millisecond, record(3))

	require.NoError(t, h.Run())
	<-done
	assert.Equal(t, []int{2, 3, 1}, order)
}

// TestTimerFireOrderIdenticalDeadlines guards against container/heap's
// documented lack of stability: with no tie-breaker, timers sharing one
// deadline can pop in a heap-structure-dependent order rather than the
// order they were scheduled in.
func TestTimerFireOrderIdenticalDeadlines(t *testing.T) {
	h := newTestHub(t)
	var order []int

	done := make(chan struct{})
	count := 0
	const n = 6
	record := func(id int) func() {
		return func() {
			order = append(order, id)
			count++
			if count == n {
				close(done)
				h.Stop()
			}
		}
	}

	const deadline = 5 * time.Millisecond
	var timers []*Timer
	for id := 1; id <= n; id++ {
		timers = append(timers, h.ScheduleAt(deadline, record(id)))
	}
	// Each ScheduleAt reads the clock on its own, so pin every deadline to
	// the first one (before Run starts) to make the timers genuinely tie.
	for _, tm := range timers[1:] {
		tm.deadline = timers[0].deadline
	}

	require.NoError(t, h.Run())
	<-done
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, order)
}

func TestTimerCancelTwiceIsSafe(t *testing.T) {
	h := newTestHub(t)
	fired := false
	timer := h.ScheduleAt(5*time.Millisecond, func() { fired = true })
	timer.Cancel()
	timer.Cancel()

	spawnBare(h, func() {})
	h.ScheduleAt(20*time.Millisecond, func() { h.Stop() })

	require.NoError(t, h.Run())
	assert.False(t, fired)
}

func TestDuplicateWatcherRejected(t *testing.T) {
	h := newTestHub(t)
	h.fds[7] = &fdEntry{}
	_, err := h.add(7, Read, func() {}, func(error) {})
	require.NoError(t, err)
	_, err = h.add(7, Read, func() {}, func(error) {})
	assert.Error(t, err)
}

func TestSwitchFromHubGoroutinePanics(t *testing.T) {
	h := newTestHub(t)
	assert.Panics(t, func() {
		_ = h.Switch()
	})
}

func TestKillParkedBatonResumesWithError(t *testing.T) {
	h := newTestHub(t)
	boom := assertErr("boom")

	var observed error
	resumed := make(chan struct{})

	b := NewBaton()
	go func() {
		b.AwaitTurn()
		b.Yield() // parks immediately, awaiting next resume
		b.AwaitTurn()
		observed = b.KillError()
		close(resumed)
		b.Yield()
	}()

	h.ScheduleNow(func() { h.ResumeAndWait(b) })
	h.ScheduleNow(func() {
		// give the goroutine a tick to park, then kill it
		h.ScheduleNow(func() {
			h.Kill(b, boom)
			h.ScheduleNow(func() { h.Stop() })
		})
	})

	require.NoError(t, h.Run())
	<-resumed
	assert.Equal(t, boom, observed)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
