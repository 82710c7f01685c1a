// Package listcache implements ListCache, a sorted, paginated in-memory view
// over an ordered backing store.
//
// Readers see one of two buffers, the active one. Writers never touch it:
// every structural change is a pure mutation function that the per-instance
// mutation actor applies to the inactive buffer, after which the UI-affine
// loop flips the active pointer and announces the change on TopicUpdated.
// The mutation is then replayed on the other buffer so both stay equal at
// rest. Buffers are copy-on-write, so a slice handed to a reader is never
// modified.
//
// Membership decisions are made against the id index at submission time,
// on the caller's goroutine. Persistence runs on a separate store actor and
// is eventually consistent with the in-memory view; a store failure is
// logged and counted and never rolls the memory back.
package listcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/core"
	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/notify"
)

// TopicUpdated is fired once per settled mutation cycle, keyed by the
// instance id. The payload is the signed change in element count (int).
const TopicUpdated notify.Topic = "list.updated"

const (
	// DefaultSwapDelay is how long the swap task waits on the UI loop.
	DefaultSwapDelay = 5 * time.Millisecond

	// DefaultSwapTimeout bounds each wait for the UI loop's acknowledgement.
	DefaultSwapTimeout = 5 * time.Second
)

type options struct {
	name        string
	descending  bool
	swapDelay   time.Duration
	swapTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithName labels the instance in logs and actor names.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescending orders the list by descending sort key.
func WithDescending() Option {
	return func(o *options) { o.descending = true }
}

// WithSwapDelay sets the delay of the swap task on the UI loop.
func WithSwapDelay(d time.Duration) Option {
	return func(o *options) { o.swapDelay = d }
}

// WithSwapTimeout sets how long the mutation actor waits for each
// acknowledgement from the UI loop.
func WithSwapTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.swapTimeout = d
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type cursor struct {
	offset       int
	lastPageSize int
	loading      bool
	epoch        uint64
}

func initialCursor(epoch uint64) cursor {
	// lastPageSize starts at 1 so the first load is permitted.
	return cursor{lastPageSize: 1, epoch: epoch}
}

// Cache is a ListCache. All methods are safe for concurrent use.
type Cache[V any] struct {
	id      int64
	name    string
	adapter core.Adapter[V]
	store   core.PageStore[V]
	bus     *notify.Bus
	less    func(a, b V) bool

	ui  *dispatch.Actor
	db  *dispatch.Actor
	mut *dispatch.Actor

	swapDelay   time.Duration
	swapTimeout time.Duration
	logger      *slog.Logger
	metrics     metrics

	// mu guards the buffers and the active pointer.
	mu      sync.Mutex
	buffers [2][]V
	active  int

	// indexMu also orders submissions to the mutation actor.
	indexMu sync.RWMutex
	index   map[int64]V
	readers int
	journal []journalEntry[V]

	cursorMu sync.Mutex
	cursor   cursor
}

// New creates a ListCache over store. ui is the shared UI-affine loop on
// which swaps are acknowledged; bus receives TopicUpdated.
func New[V any](adapter core.Adapter[V], store core.PageStore[V], bus *notify.Bus, ui *dispatch.Actor, opts ...Option) *Cache[V] {
	o := options{
		swapDelay:   DefaultSwapDelay,
		swapTimeout: DefaultSwapTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := core.NextInstanceID()
	if o.name == "" {
		o.name = fmt.Sprintf("list-%d", id)
	}
	logger := o.logger.With("list", o.name, "instance", id)

	less := func(a, b V) bool { return adapter.SortKey(a) < adapter.SortKey(b) }
	if o.descending {
		less = func(a, b V) bool { return adapter.SortKey(a) > adapter.SortKey(b) }
	}

	return &Cache[V]{
		id:          id,
		name:        o.name,
		adapter:     adapter,
		store:       store,
		bus:         bus,
		less:        less,
		ui:          ui,
		db:          dispatch.New("list_db_"+o.name, dispatch.WithLogger(logger)),
		mut:         dispatch.New("list_"+o.name, dispatch.WithLogger(logger)),
		swapDelay:   o.swapDelay,
		swapTimeout: o.swapTimeout,
		logger:      logger,
		index:       make(map[int64]V),
		cursor:      initialCursor(0),
	}
}

// ID returns the instance id, the key of TopicUpdated notifications.
func (c *Cache[V]) ID() int64 { return c.id }

// Name returns the instance name.
func (c *Cache[V]) Name() string { return c.name }

func (c *Cache[V]) activeSeq() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers[c.active]
}

// ValueAt returns the element at position in the active buffer.
func (c *Cache[V]) ValueAt(position int) (V, bool) {
	seq := c.activeSeq()
	if position < 0 || position >= len(seq) {
		var zero V
		return zero, false
	}
	return seq[position], true
}

// ValueByID looks id up in the index. The index reflects every submitted
// mutation, including ones whose swap has not happened yet.
func (c *Cache[V]) ValueByID(id int64) (V, bool) {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	v, ok := c.index[id]
	return v, ok
}

// Count returns the length of the active buffer.
func (c *Cache[V]) Count() int {
	return len(c.activeSeq())
}

// Snapshot returns a copy of the active buffer.
func (c *Cache[V]) Snapshot() []V {
	return append([]V(nil), c.activeSeq()...)
}

// IndexLen returns the number of ids in the index.
func (c *Cache[V]) IndexLen() int {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return len(c.index)
}

// submit queues m on the mutation actor. Callers hold indexMu so the
// actor sees submissions in index order.
func (c *Cache[V]) submit(op string, m mutation[V]) {
	if !c.mut.Post(func(ctx context.Context) { c.runCycle(ctx, op, m) }) {
		c.logger.Warn("cache closed, dropping mutation", "op", op)
	}
}

// persist queues fn on the store actor.
func (c *Cache[V]) persist(op string, fn func(ctx context.Context) error) {
	ok := c.db.Post(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			c.metrics.storeErrors.Add(1)
			c.logger.Error("store operation failed", "op", op, "error", err)
		}
	})
	if !ok {
		c.logger.Warn("cache closed, dropping store work", "op", op)
	}
}

// Settle waits until all store work and all mutation cycles submitted
// before it have completed. It must not be called on the UI-affine loop,
// which the cycles themselves wait on.
func (c *Cache[V]) Settle(ctx context.Context) error {
	if dispatch.IsAffine(ctx) {
		return core.NewWrongThreadError("list.settle")
	}
	// Loads run on the store actor and submit cycles from there, so the
	// store barrier must come first.
	if err := c.db.Barrier(ctx); err != nil {
		return err
	}
	return c.mut.Barrier(ctx)
}

// Close settles outstanding work and stops the instance's actors. The
// shared UI loop is not closed.
func (c *Cache[V]) Close(ctx context.Context) error {
	var err error
	if serr := c.Settle(ctx); serr != nil && !core.IsClosed(serr) {
		err = multierr.Append(err, serr)
	}
	err = multierr.Append(err, c.db.Close(ctx))
	err = multierr.Append(err, c.mut.Close(ctx))
	return err
}
