package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marker(out *[]string, s string) Task {
	return func(context.Context) { *out = append(*out, s) }
}

func TestTaskQueue_FIFOForImmediateTasks(t *testing.T) {
	q := newTaskQueue()
	var got []string

	q.Enqueue(marker(&got, "A"), time.Time{})
	q.Enqueue(marker(&got, "B"), time.Time{})
	q.Enqueue(marker(&got, "C"), time.Time{})

	now := time.Now()
	for {
		task, _, ok := q.TryDequeue(now)
		if !ok {
			break
		}
		task(context.Background())
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestTaskQueue_HeadNotDue(t *testing.T) {
	q := newTaskQueue()
	now := time.Now()

	q.Enqueue(func(context.Context) {}, now.Add(50*time.Millisecond))

	_, wait, ok := q.TryDequeue(now)
	require.False(t, ok)
	assert.Equal(t, 50*time.Millisecond, wait)

	_, _, ok = q.TryDequeue(now.Add(50 * time.Millisecond))
	assert.True(t, ok)
}

func TestTaskQueue_OrdersByDueThenSubmission(t *testing.T) {
	q := newTaskQueue()
	var got []string
	now := time.Now()

	q.Enqueue(marker(&got, "late"), now.Add(20*time.Millisecond))
	q.Enqueue(marker(&got, "early-1"), now.Add(10*time.Millisecond))
	q.Enqueue(marker(&got, "early-2"), now.Add(10*time.Millisecond))
	q.Enqueue(marker(&got, "now"), time.Time{})

	later := now.Add(time.Second)
	for {
		task, _, ok := q.TryDequeue(later)
		if !ok {
			break
		}
		task(context.Background())
	}
	assert.Equal(t, []string{"now", "early-1", "early-2", "late"}, got)
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()
	require.True(t, q.Enqueue(func(context.Context) {}, time.Time{}))

	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(func(context.Context) {}, time.Time{}))
	assert.Equal(t, 1, q.Len(), "queued tasks survive close")

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should signal waiters")
	}
}
