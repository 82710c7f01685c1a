package dispatch

import (
	"sync"
	"time"
)

// entry is a queued task with an optional earliest run time.
type entry struct {
	task Task
	due  time.Time // zero means "as soon as possible"
	seq  uint64
}

// taskQueue is a thread-safe queue of tasks ordered by due time, then by
// submission order. Immediate tasks therefore stay FIFO relative to each
// other, and a delayed task never holds back tasks that are already due.
//
// The queue is unbounded. A buffered channel of size 1 signals availability
// so the actor loop can wait with select alongside its stop channel.
type taskQueue struct {
	mu      sync.Mutex
	entries []entry
	nextSeq uint64
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		entries: make([]entry, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue inserts a task. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(task Task, due time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.nextSeq++
	e := entry{task: task, due: due, seq: q.nextSeq}

	// Insert after every entry due at or before e. Scanning from the back
	// keeps the common immediate-append case O(1).
	i := len(q.entries)
	for i > 0 && q.entries[i-1].due.After(due) {
		i--
	}
	q.entries = append(q.entries, entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the head if it is due at now.
// When the head exists but is not yet due, it returns the wait duration.
func (q *taskQueue) TryDequeue(now time.Time) (Task, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, 0, false
	}

	head := q.entries[0]
	if !head.due.IsZero() && head.due.After(now) {
		return nil, head.due.Sub(now), false
	}

	// Nil out the slot so the array does not retain the task closure.
	q.entries[0] = entry{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	return head.task, 0, true
}

// Wait returns the availability signal channel.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued tasks, due or not.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops accepting tasks. Already queued tasks remain dequeueable.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *taskQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
