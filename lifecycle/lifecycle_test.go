package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder builds hooks that log their calls into one shared trace.
type recorder struct {
	trace []string
}

func (r *recorder) hook(name string, startErr, stopErr error) Hook {
	return Hook{
		ID: name,
		OnStart: func(context.Context) error {
			r.trace = append(r.trace, "start "+name)
			return startErr
		},
		OnStop: func(context.Context) error {
			r.trace = append(r.trace, "stop "+name)
			return stopErr
		},
	}
}

func TestManager_StartStopOrder(t *testing.T) {
	r := &recorder{}
	m := New()
	for _, name := range []string{"store", "events", "http"} {
		require.NoError(t, m.Register(r.hook(name, nil, nil)))
	}

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, []string{
		"start store", "start events", "start http",
		"stop http", "stop events", "stop store",
	}, r.trace)
}

func TestManager_RollbackOnStartFailure(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	m := New()
	require.NoError(t, m.Register(r.hook("store", nil, nil)))
	require.NoError(t, m.Register(r.hook("events", nil, nil)))
	require.NoError(t, m.Register(r.hook("http", boom, nil)))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{
		"start store", "start events", "start http",
		"stop events", "stop store",
	}, r.trace)

	// nothing left to stop
	r.trace = nil
	require.NoError(t, m.Stop(context.Background()))
	assert.Empty(t, r.trace)
}

func TestManager_StopContinuesPastErrors(t *testing.T) {
	r := &recorder{}
	errA, errB := errors.New("a"), errors.New("b")
	m := New()
	require.NoError(t, m.Register(r.hook("a", nil, errA)))
	require.NoError(t, m.Register(r.hook("b", nil, errB)))
	require.NoError(t, m.Register(r.hook("c", nil, nil)))

	require.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []string{"stop c", "stop b", "stop a"}, r.trace[3:])
}

func TestManager_Register(t *testing.T) {
	m := New()
	require.NoError(t, m.Register(Hook{ID: "x"}))
	assert.ErrorIs(t, m.Register(Hook{ID: "x"}), ErrAlreadyRegistered)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Register(Hook{ID: "y"}), ErrAlreadyStarted)
}
