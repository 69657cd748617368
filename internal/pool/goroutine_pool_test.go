package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewGoroutinePool_Defaults(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{}, nil)
	defer p.Close()

	def := DefaultGoroutinePoolConfig()
	assert.Equal(t, def.MaxWorkers, p.maxWorkers)
	assert.Equal(t, 1, cap(p.taskQueue))
	assert.Equal(t, def.IdleTimeout, p.idleTimeout)
}

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig(), zap.NewNop())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = p.SubmitWait(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	st := p.Stats()
	assert.Equal(t, int64(2), st.Submitted)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.Failed)
}

func TestGoroutinePool_PanicBecomesError(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig(), zap.NewNop())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(context.Context) error { panic("page crashed") })
	assert.ErrorContains(t, err, "page crashed")
}

func TestGoroutinePool_BoundsConcurrency(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 3, QueueSize: 16}, zap.NewNop())
	defer p.Close()

	var running, peak atomic.Int32
	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	errs := p.RunAll(context.Background(), tasks)
	require.Len(t, errs, 12)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int64(12), p.Stats().Completed)
}

func TestGoroutinePool_RunAllKeepsOrder(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4}, zap.NewNop())
	defer p.Close()

	errA, errC := errors.New("a"), errors.New("c")
	errs := p.RunAll(context.Background(), []Task{
		func(context.Context) error { return errA },
		func(context.Context) error { return nil },
		func(context.Context) error { return errC },
	})
	assert.Equal(t, []error{errA, nil, errC}, errs)
}

func TestGoroutinePool_SubmitFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(release)
		p.Close()
	}()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)
}

func TestGoroutinePool_CancelledContext(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig(), zap.NewNop())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := p.SubmitWait(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestGoroutinePool_Close(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 8}, zap.NewNop())

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			done.Add(1)
			return nil
		}))
	}
	p.Close()
	p.Close()

	assert.Equal(t, int32(5), done.Load(), "queued tasks drain before Close returns")
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}
