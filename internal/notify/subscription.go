package notify

import (
	"context"
	"sync"
	"weak"
)

// Subscription is the owning handle of a bus registration.
// Dropping every reference to it makes the registration inert.
type Subscription struct {
	entry    *entry
	listener Listener
	bus      *Bus
}

// ID returns the subscription id.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.entry.id
}

// Cancel removes this single registration. Safe to call more than once and
// from inside the listener's own callback (pass the callback ctx).
func (s *Subscription) Cancel(ctx context.Context) {
	if s == nil {
		return
	}
	s.bus.remove(ctx, s.entry)
}

// entry is the bus-side record of a subscription.
//
// mu is held for the whole duration of a listener invocation, and deleted is
// only set under mu, so an invocation can never start after markDeleted
// returns.
type entry struct {
	id    string
	topic Topic
	key   int64
	ui    bool
	ref   weak.Pointer[Subscription]

	mu      sync.Mutex
	deleted bool
}

type frameKey struct{}

// frame records that the current goroutine holds an entry's delivery lock.
// Frames chain through ctx so nested deliveries and removals from inside a
// callback do not self-deadlock.
type frame struct {
	e      *entry
	parent *frame
}

func holding(ctx context.Context, e *entry) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.e == e {
			return true
		}
	}
	return false
}

// deliver invokes l unless the entry was removed. Reports whether l ran.
func (e *entry) deliver(ctx context.Context, l Listener, n Notification) bool {
	if holding(ctx, e) {
		if e.deleted {
			return false
		}
		l.OnNotification(ctx, n)
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return false
	}

	parent, _ := ctx.Value(frameKey{}).(*frame)
	l.OnNotification(context.WithValue(ctx, frameKey{}, &frame{e: e, parent: parent}), n)
	return true
}

func (e *entry) markDeleted(ctx context.Context) {
	if holding(ctx, e) {
		e.deleted = true
		return
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
}
