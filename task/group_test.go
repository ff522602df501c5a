package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupWaitSucceedsWhenAllComplete(t *testing.T) {
	h := newTestHub(t)
	g := NewGroup(h)

	for i := 0; i < 3; i++ {
		g.Add(Spawn(h, func(*Task) (any, error) { return nil, nil }))
	}

	var err error
	Spawn(h, func(*Task) (any, error) {
		err = g.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, err)
}

func TestGroupWaitReturnsFirstError(t *testing.T) {
	h := newTestHub(t)
	g := NewGroup(h)
	boom := errors.New("boom")

	g.Add(Spawn(h, func(*Task) (any, error) { return nil, nil }))
	g.Add(Spawn(h, func(*Task) (any, error) { return nil, boom }))

	var err error
	Spawn(h, func(*Task) (any, error) {
		err = g.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, err, boom)
}

func TestGroupWaitOnEmptyGroupReturnsImmediately(t *testing.T) {
	h := newTestHub(t)
	g := NewGroup(h)

	var err error
	Spawn(h, func(*Task) (any, error) {
		err = g.Wait()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, err)
}

func TestGroupAddAfterDoneIsIgnored(t *testing.T) {
	h := newTestHub(t)
	g := NewGroup(h)
	g.Add(Spawn(h, func(*Task) (any, error) { return nil, nil }))

	var firstErr error
	Spawn(h, func(*Task) (any, error) {
		firstErr = g.Wait()
		g.Add(Spawn(h, func(*Task) (any, error) { return nil, errors.New("late") }))
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, firstErr)
	// the late task's error must not reach the already-resolved group
	assert.NoError(t, g.Wait())
}
