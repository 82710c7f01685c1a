package testutil

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/record"
)

func TestItemSeq_Monotonic(t *testing.T) {
	seq := NewItemSeq()
	assert.Equal(t, int64(0), seq.Current())

	items := seq.Take(3)
	assert.Equal(t, []int64{1, 2, 3}, record.IDs(items))
	assert.Equal(t, int64(30), items[2].Time)
	assert.Equal(t, "item-2", items[1].Label)

	seq.Reset()
	assert.Equal(t, int64(1), seq.Next().ID)
}

func TestItemSeq_ThreadSafe(t *testing.T) {
	seq := NewItemSeq()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := seq.Next().ID
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), seq.Current())
}

func TestEnv_RecorderSeesUIAffinity(t *testing.T) {
	env := NewEnv(t)
	bg := NewRecorder()
	ui := NewRecorder()

	bgSub := env.Bus.Subscribe(context.Background(), "t", 1, bg)
	var uiSub any
	env.OnUI(t, func(ctx context.Context) {
		uiSub = env.Bus.Subscribe(ctx, "t", 1, ui)
	})

	env.Bus.Fire(context.Background(), "t", 1, "x")
	env.Settle(t)

	require.Equal(t, 1, bg.Len())
	require.Equal(t, 1, ui.Len())
	assert.False(t, bg.Deliveries()[0].OnUI)
	assert.True(t, ui.Deliveries()[0].OnUI)
	assert.Equal(t, []any{"x"}, ui.Payloads())

	ui.Reset()
	assert.Equal(t, 0, ui.Len())
	runtime.KeepAlive(bgSub)
	runtime.KeepAlive(uiSub)
}
