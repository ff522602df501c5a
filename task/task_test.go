package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/syncx"
)

func newTestHub(t *testing.T) *reactor.Hub {
	t.Helper()
	t.Setenv(reactor.BackendEnv, reactor.BackendFallback)
	h, err := reactor.NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSpawnWaitReturnsValue(t *testing.T) {
	h := newTestHub(t)

	var got any
	var gotErr error
	done := make(chan struct{})

	Spawn(h, func(self *Task) (any, error) {
		v, err := Spawn(h, func(*Task) (any, error) {
			return 42, nil
		}).Wait()
		got, gotErr = v, err
		close(done)
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	<-done
	require.NoError(t, gotErr)
	assert.Equal(t, 42, got)
}

func TestSpawnPropagatesError(t *testing.T) {
	h := newTestHub(t)
	boom := errors.New("boom")

	var gotErr error
	Spawn(h, func(*Task) (any, error) {
		_, err := Spawn(h, func(*Task) (any, error) {
			return nil, boom
		}).Wait()
		gotErr = err
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, boom)
}

func TestCompletionCellSetExactlyOnce(t *testing.T) {
	h := newTestHub(t)

	var first, second any
	var firstErr, secondErr error

	leaf := Spawn(h, func(*Task) (any, error) { return "value", nil })

	Spawn(h, func(*Task) (any, error) {
		first, firstErr = leaf.Wait()
		second, secondErr = leaf.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.Equal(t, first, second)
	assert.Equal(t, firstErr, secondErr)
	assert.Equal(t, Dead, leaf.State())
}

func TestLinkRunsAfterCompletion(t *testing.T) {
	h := newTestHub(t)

	linked := make(chan *Task, 1)
	t1 := Spawn(h, func(*Task) (any, error) { return nil, nil })
	t1.Link(func(done *Task, _ []any) {
		linked <- done
		h.Stop()
	}, nil)

	require.NoError(t, h.Run())
	got := <-linked
	assert.Same(t, t1, got)
}

func TestUnlinkPreventsCallback(t *testing.T) {
	h := newTestHub(t)

	fired := false
	t1 := Spawn(h, func(*Task) (any, error) { return nil, nil })
	handle := t1.Link(func(*Task, []any) { fired = true }, nil)
	t1.Unlink(handle)

	done := make(chan struct{})
	t1.Link(func(*Task, []any) { close(done) }, nil)

	// give the hub a moment to run both spawn and the links
	Spawn(h, func(*Task) (any, error) {
		<-done
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.False(t, fired)
}

func TestKillBeforeStartRaisesOnRun(t *testing.T) {
	h := newTestHub(t)

	t1 := Spawn(h, func(*Task) (any, error) {
		return nil, nil
	})
	t1.Cancel(nil)

	var gotErr error
	Spawn(h, func(*Task) (any, error) {
		_, gotErr = t1.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, errs.ErrCancelled)
}

func TestKillParkedTaskDeliversImmediately(t *testing.T) {
	h := newTestHub(t)
	ev := syncx.NewEvent(h)

	var gotErr error
	blocked := Spawn(h, func(*Task) (any, error) {
		_, err := ev.Wait()
		return nil, err
	})

	Spawn(h, func(*Task) (any, error) {
		blocked.Kill(nil)
		_, gotErr = blocked.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, errs.ErrCancelled)
}

func TestSpawnAfterDelaysStart(t *testing.T) {
	h := newTestHub(t)

	var started time.Time
	begin := time.Now()
	done := make(chan struct{})

	SpawnAfter(h, 20*time.Millisecond, func(*Task) (any, error) {
		started = time.Now()
		close(done)
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	<-done
	assert.GreaterOrEqual(t, started.Sub(begin), 20*time.Millisecond)
}

func TestCurrentIdentifiesRunningTask(t *testing.T) {
	h := newTestHub(t)

	var self, observed *Task
	self = Spawn(h, func(t *Task) (any, error) {
		observed = Current(h)
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.Same(t, self, observed)
}
