// Package dispatch provides serial task actors.
//
// An Actor owns one goroutine and runs submitted tasks one at a time, in
// order, with no overlap. Every engine component that needs serialization
// (the list mutation actor, the per-collection store actors, the bus
// background loop, and the UI-affine loop) is an Actor.
//
// Each task receives a context carrying the identity of the actor it runs
// on. Code that needs to know whether it is executing on the UI-affine loop
// asks IsAffine(ctx) instead of inspecting goroutines.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/cachekit/internal/core"
)

// Task is a unit of work run on an actor.
// The context identifies the executing actor; it is never cancelled by the
// actor itself.
type Task func(ctx context.Context)

// Actor is a serial task executor backed by a single goroutine.
type Actor struct {
	name   string
	affine bool
	logger *slog.Logger

	queue *taskQueue
	base  context.Context

	executed atomic.Int64
	panics   atomic.Int64

	stop    chan struct{}
	stopped atomic.Bool
	done    chan struct{}
}

// Option configures an Actor.
type Option func(*Actor)

// WithAffinity marks the actor as the UI-affine loop. Tasks running on it
// observe IsAffine(ctx) == true.
func WithAffinity() Option {
	return func(a *Actor) {
		a.affine = true
	}
}

// WithLogger sets the logger used for task panics and lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(a *Actor) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates and starts an actor.
func New(name string, opts ...Option) *Actor {
	a := &Actor{
		name:   name,
		logger: slog.Default(),
		queue:  newTaskQueue(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("actor", name)
	a.base = context.WithValue(context.Background(), actorKey{}, a)

	go a.run()
	return a
}

// Name returns the actor's name.
func (a *Actor) Name() string { return a.name }

// Affine reports whether this actor is the UI-affine loop.
func (a *Actor) Affine() bool { return a.affine }

// Len returns the number of queued tasks.
func (a *Actor) Len() int { return a.queue.Len() }

// Executed returns the number of tasks run so far.
func (a *Actor) Executed() int64 { return a.executed.Load() }

// Panics returns the number of tasks that panicked.
func (a *Actor) Panics() int64 { return a.panics.Load() }

// Post enqueues a task to run as soon as possible.
// Returns false if the actor is closed.
func (a *Actor) Post(task Task) bool {
	return a.queue.Enqueue(task, time.Time{})
}

// PostDelayed enqueues a task to run no earlier than d from now.
// Returns false if the actor is closed.
func (a *Actor) PostDelayed(d time.Duration, task Task) bool {
	if d <= 0 {
		return a.Post(task)
	}
	return a.queue.Enqueue(task, time.Now().Add(d))
}

// Call runs task on the actor and waits for it to finish.
//
// When the caller is already executing on this actor the task runs inline,
// so a task may Call its own actor without deadlocking.
func (a *Actor) Call(ctx context.Context, task Task) error {
	if Current(ctx) == a {
		task(ctx)
		return nil
	}

	finished := make(chan struct{})
	if !a.Post(func(actx context.Context) {
		defer close(finished)
		task(actx)
	}) {
		return core.ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Barrier waits until every task submitted before it has run.
func (a *Actor) Barrier(ctx context.Context) error {
	return a.Call(ctx, func(context.Context) {})
}

// Close stops accepting tasks and waits for queued tasks to drain.
// If ctx expires first the loop is abandoned after the running task and
// ctx.Err() is returned. Close is idempotent.
func (a *Actor) Close(ctx context.Context) error {
	a.queue.Close()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		if a.stopped.CompareAndSwap(false, true) {
			close(a.stop)
		}
		return ctx.Err()
	}
}

// Done is closed once the actor goroutine has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

func (a *Actor) run() {
	defer close(a.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		task, wait, ok := a.queue.TryDequeue(time.Now())
		if ok {
			a.execute(task)
			continue
		}

		closed := a.queue.Closed()
		if closed && a.queue.Len() == 0 {
			return
		}

		if wait > 0 {
			timer.Reset(wait)
			if closed {
				// The signal channel is closed and always ready; only the timer matters.
				select {
				case <-timer.C:
				case <-a.stop:
					return
				}
				continue
			}
			select {
			case <-a.queue.Wait():
				timer.Stop()
			case <-timer.C:
			case <-a.stop:
				return
			}
			continue
		}

		select {
		case <-a.queue.Wait():
		case <-a.stop:
			return
		}
	}
}

func (a *Actor) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			a.panics.Add(1)
			a.logger.Error("task panicked",
				"panic", fmt.Sprint(r),
			)
		}
	}()

	task(a.base)
	a.executed.Add(1)
}
