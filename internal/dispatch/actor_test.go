package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/core"
)

func newTestActor(t *testing.T, name string, opts ...Option) *Actor {
	t.Helper()
	a := New(name, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestActor_RunsTasksInOrder(t *testing.T) {
	a := newTestActor(t, "ordered")

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, a.Post(func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, a.Barrier(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestActor_NoOverlap(t *testing.T) {
	a := newTestActor(t, "serial")

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Post(func(context.Context) {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
			})
		}()
	}
	wg.Wait()
	require.NoError(t, a.Barrier(context.Background()))

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestActor_PostDelayed_RunsAfterDelay(t *testing.T) {
	a := newTestActor(t, "delayed")

	start := time.Now()
	ran := make(chan time.Duration, 1)
	require.True(t, a.PostDelayed(20*time.Millisecond, func(context.Context) {
		ran <- time.Since(start)
	}))

	select {
	case d := <-ran:
		assert.GreaterOrEqual(t, d, 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestActor_PostDelayed_DoesNotBlockImmediateTasks(t *testing.T) {
	a := newTestActor(t, "mixed")

	var mu sync.Mutex
	var order []string
	record := func(s string) Task {
		return func(context.Context) {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}

	a.PostDelayed(30*time.Millisecond, record("late"))
	a.Post(record("now-1"))
	a.Post(record("now-2"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"now-1", "now-2", "late"}, order)
}

func TestActor_Call_WaitsForCompletion(t *testing.T) {
	a := newTestActor(t, "call")

	var value int
	err := a.Call(context.Background(), func(context.Context) {
		time.Sleep(5 * time.Millisecond)
		value = 42
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestActor_Call_ReentrantRunsInline(t *testing.T) {
	a := newTestActor(t, "reentrant")

	done := make(chan struct{})
	a.Post(func(ctx context.Context) {
		defer close(done)
		err := a.Call(ctx, func(context.Context) {})
		assert.NoError(t, err)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant Call deadlocked")
	}
}

func TestActor_Call_ContextCancelled(t *testing.T) {
	a := newTestActor(t, "cancel")

	release := make(chan struct{})
	a.Post(func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := a.Call(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActor_Close_DrainsQueuedTasks(t *testing.T) {
	a := New("drain")

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		a.Post(func(context.Context) { count.Add(1) })
	}

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, int32(10), count.Load())

	assert.False(t, a.Post(func(context.Context) {}), "post after close should fail")
	err := a.Call(context.Background(), func(context.Context) {})
	assert.True(t, core.IsClosed(err))
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestActor_Close_Idempotent(t *testing.T) {
	a := New("twice")
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestActor_PanicIsRecovered(t *testing.T) {
	a := newTestActor(t, "panicky")

	a.Post(func(context.Context) { panic("boom") })

	var ran bool
	require.NoError(t, a.Call(context.Background(), func(context.Context) { ran = true }))
	assert.True(t, ran, "actor should keep running after a panic")
	assert.Equal(t, int64(1), a.Panics())
}

func TestIsAffine(t *testing.T) {
	ui := newTestActor(t, "ui", WithAffinity())
	bg := newTestActor(t, "bg")

	assert.False(t, IsAffine(context.Background()))

	var onUI, onBG bool
	require.NoError(t, ui.Call(context.Background(), func(ctx context.Context) { onUI = IsAffine(ctx) }))
	require.NoError(t, bg.Call(context.Background(), func(ctx context.Context) { onBG = IsAffine(ctx) }))

	assert.True(t, onUI)
	assert.False(t, onBG)
	assert.True(t, ui.Affine())
}

func TestCurrent(t *testing.T) {
	a := newTestActor(t, "current")

	assert.Nil(t, Current(context.Background()))

	var got *Actor
	require.NoError(t, a.Call(context.Background(), func(ctx context.Context) {
		derived, cancel := context.WithCancel(ctx)
		defer cancel()
		got = Current(derived)
	}))
	assert.Same(t, a, got)
}
