// Package notify implements the process-wide notification bus.
//
// Subscriptions are exact-match on (topic, key). Topics registered with
// RegisterTopic are "sticky": the bus remembers the last payload fired per
// key and replays it synchronously to every new subscriber.
//
// Delivery respects UI affinity. A subscription made from the UI-affine loop
// (see dispatch.IsAffine) is delivered on that loop; all other subscriptions
// are delivered on a background actor. When the firing code is itself on the
// UI-affine loop, UI-affine subscribers are invoked inline.
//
// The bus does not own listeners. Subscribe returns a *Subscription handle
// and the bus keeps only a weak reference to it: once the caller drops the
// handle, the subscription becomes inert and is purged lazily.
package notify

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"

	"github.com/roach88/cachekit/internal/dispatch"
)

// Topic names a class of notifications.
type Topic string

// NoKey is the key used for topic-wide notifications that are not scoped to
// a single instance.
const NoKey int64 = math.MinInt64

// Notification is a single delivered event.
type Notification struct {
	Topic   Topic
	Key     int64
	Payload any
}

// Listener receives notifications.
//
// Unsubscribe matches listeners with ==, so a listener that should be
// removable by value must have a comparable dynamic type (typically a
// pointer).
type Listener interface {
	OnNotification(ctx context.Context, n Notification)
}

// ListenerFunc adapts a function to Listener. Function values are not
// comparable, so a ListenerFunc can only be removed through its Subscription.
type ListenerFunc func(ctx context.Context, n Notification)

func (f ListenerFunc) OnNotification(ctx context.Context, n Notification) { f(ctx, n) }

// InitFunc supplies the sticky value for a key that has never been fired.
type InitFunc func(topic Topic, key int64) any

type topicKey struct {
	topic Topic
	key   int64
}

type stickyValue struct {
	payload any
	version uint64
}

// Bus is the notification registry. It is safe for concurrent use.
type Bus struct {
	ui     *dispatch.Actor
	bg     *dispatch.Actor
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[topicKey][]*entry
	stateful map[Topic]InitFunc
	sticky   map[topicKey]stickyValue
	version  uint64

	fired     atomic.Int64
	delivered atomic.Int64
	purged    atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a bus delivering UI-affine subscriptions on ui and all
// others on bg. Both actors are owned by the caller.
func NewBus(ui, bg *dispatch.Actor, opts ...Option) *Bus {
	b := &Bus{
		ui:       ui,
		bg:       bg,
		logger:   slog.Default(),
		entries:  make(map[topicKey][]*entry),
		stateful: make(map[Topic]InitFunc),
		sticky:   make(map[topicKey]stickyValue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterTopic marks topic as stateful. init may be nil, in which case
// keys that were never fired replay nothing.
func (b *Bus) RegisterTopic(topic Topic, init InitFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateful[topic] = init
}

// State returns the current sticky value for (topic, key).
// The second result is false if the topic is not stateful or there is
// neither a fired value nor an init value.
func (b *Bus) State(topic Topic, key int64) (any, bool) {
	b.mu.Lock()
	v, _, ok := b.stateLocked(topicKey{topic, key})
	b.mu.Unlock()
	return v, ok
}

func (b *Bus) stateLocked(k topicKey) (any, uint64, bool) {
	init, stateful := b.stateful[k.topic]
	if !stateful {
		return nil, 0, false
	}
	if sv, ok := b.sticky[k]; ok {
		return sv.payload, sv.version, true
	}
	if init == nil {
		return nil, 0, false
	}
	return init(k.topic, k.key), 0, true
}

// Subscribe registers l for (topic, key).
//
// For stateful topics the current value is delivered to l synchronously,
// on the calling goroutine, before Subscribe returns. If the value changes
// while the subscription is being registered the newer value is replayed as
// well, so the subscriber never misses the latest state.
//
// The subscription is tagged UI-affine when ctx belongs to the UI-affine
// loop. The caller must retain the returned handle for as long as it wants
// deliveries.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, key int64, l Listener) *Subscription {
	if l == nil {
		return nil
	}
	k := topicKey{topic, key}

	b.mu.Lock()
	replay, seen, hasState := b.stateLocked(k)
	b.mu.Unlock()

	if hasState {
		l.OnNotification(ctx, Notification{Topic: topic, Key: key, Payload: replay})
	}

	sub := &Subscription{listener: l, bus: b}
	e := &entry{
		id:    uuid.Must(uuid.NewV7()).String(),
		topic: topic,
		key:   key,
		ui:    dispatch.IsAffine(ctx),
		ref:   weak.Make(sub),
	}
	sub.entry = e

	b.mu.Lock()
	b.entries[k] = append(b.entries[k], e)
	latest, version, _ := b.stateLocked(k)
	b.mu.Unlock()

	if hasState && version != seen {
		e.deliver(ctx, l, Notification{Topic: topic, Key: key, Payload: latest})
	}

	b.logger.Debug("subscribed",
		"subscription", e.id,
		"topic", topic,
		"key", key,
		"ui", e.ui,
	)
	return sub
}

// Unsubscribe removes every subscription whose listener equals l and
// returns how many were removed. Once Unsubscribe returns, l is never
// invoked again by this bus, even by deliveries already queued.
//
// ctx must be the callback context when called from inside a delivery.
func (b *Bus) Unsubscribe(ctx context.Context, l Listener) int {
	var removed []*entry

	b.mu.Lock()
	for k, list := range b.entries {
		kept := list[:0]
		for _, e := range list {
			sub := e.ref.Value()
			switch {
			case sub == nil:
				b.purged.Add(1)
			case sameListener(sub.listener, l):
				removed = append(removed, e)
			default:
				kept = append(kept, e)
			}
		}
		b.storeLocked(k, kept)
	}
	b.mu.Unlock()

	for _, e := range removed {
		e.markDeleted(ctx)
	}
	return len(removed)
}

func (b *Bus) remove(ctx context.Context, target *entry) {
	k := topicKey{target.topic, target.key}

	b.mu.Lock()
	list := b.entries[k]
	kept := list[:0]
	for _, e := range list {
		if e != target {
			kept = append(kept, e)
		}
	}
	b.storeLocked(k, kept)
	b.mu.Unlock()

	target.markDeleted(ctx)
}

func (b *Bus) storeLocked(k topicKey, list []*entry) {
	if len(list) == 0 {
		delete(b.entries, k)
		return
	}
	// Clear the tail so removed entries are not retained by the backing array.
	full := b.entries[k]
	for i := len(list); i < len(full); i++ {
		full[i] = nil
	}
	b.entries[k] = list
}

// Fire publishes payload to every live subscription on (topic, key).
//
// Sticky state is updated before any delivery. UI-affine subscribers are
// invoked inline when ctx is on the UI-affine loop and queued on it
// otherwise; the rest are queued on the background actor. Fire never waits
// for queued deliveries.
func (b *Bus) Fire(ctx context.Context, topic Topic, key int64, payload any) {
	k := topicKey{topic, key}
	n := Notification{Topic: topic, Key: key, Payload: payload}
	b.fired.Add(1)

	b.mu.Lock()
	if _, ok := b.stateful[topic]; ok {
		b.version++
		b.sticky[k] = stickyValue{payload: payload, version: b.version}
	}
	list := b.entries[k]
	targets := make([]*entry, 0, len(list))
	kept := list[:0]
	for _, e := range list {
		if e.ref.Value() == nil {
			b.purged.Add(1)
			continue
		}
		kept = append(kept, e)
		targets = append(targets, e)
	}
	if len(list) > 0 {
		b.storeLocked(k, kept)
	}
	b.mu.Unlock()

	onUI := dispatch.IsAffine(ctx)
	for _, e := range targets {
		switch {
		case e.ui && onUI:
			b.deliver(ctx, e, n)
		case e.ui:
			b.post(b.ui, e, n)
		default:
			b.post(b.bg, e, n)
		}
	}
}

func (b *Bus) post(a *dispatch.Actor, e *entry, n Notification) {
	ok := a.Post(func(actx context.Context) {
		b.deliver(actx, e, n)
	})
	if !ok {
		b.logger.Debug("delivery dropped, actor closed",
			"actor", a.Name(),
			"subscription", e.id,
			"topic", n.Topic,
		)
	}
}

func (b *Bus) deliver(ctx context.Context, e *entry, n Notification) {
	sub := e.ref.Value()
	if sub == nil {
		return
	}
	if e.deliver(ctx, sub.listener, n) {
		b.delivered.Add(1)
	}
}

// SubscriptionInfo describes one live subscription.
type SubscriptionInfo struct {
	ID    string `json:"id"`
	Topic Topic  `json:"topic"`
	Key   int64  `json:"key"`
	UI    bool   `json:"ui"`
}

// Subscriptions lists the live subscriptions, purging dead ones.
// The result is sorted by topic, key, then id.
func (b *Bus) Subscriptions() []SubscriptionInfo {
	var out []SubscriptionInfo

	b.mu.Lock()
	for k, list := range b.entries {
		kept := list[:0]
		for _, e := range list {
			if e.ref.Value() == nil {
				b.purged.Add(1)
				b.logger.Debug("empty weak reference, removing", "subscription", e.id)
				continue
			}
			kept = append(kept, e)
			out = append(out, SubscriptionInfo{ID: e.id, Topic: e.topic, Key: e.key, UI: e.ui})
		}
		b.storeLocked(k, kept)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats is a point-in-time copy of bus counters.
type Stats struct {
	Fired     int64 `json:"fired"`
	Delivered int64 `json:"delivered"`
	Purged    int64 `json:"purged"`
}

// Stats returns the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Fired:     b.fired.Load(),
		Delivered: b.delivered.Load(),
		Purged:    b.purged.Load(),
	}
}

// sameListener compares listeners without panicking on non-comparable
// dynamic types.
func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
