// Package kvcache implements KeyValueCache, a bounded LRU over an unordered
// backing store.
//
// Memory is updated synchronously by the caller. Persistence happens on a
// per-instance store actor (or inline for the *Sync variants). Every write
// fires TopicUpdated keyed by the instance id, after the store write.
// Eviction from the LRU never touches the store.
package kvcache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/roach88/cachekit/internal/core"
	"github.com/roach88/cachekit/internal/dispatch"
	"github.com/roach88/cachekit/internal/notify"
)

// TopicUpdated is fired after every put, remove and clear. The payload is
// the number of entries the call affected.
const TopicUpdated notify.Topic = "kv.updated"

// DefaultCapacity is the LRU capacity when none is configured.
const DefaultCapacity = 100

// ValueCallback receives the result of an asynchronous single read.
type ValueCallback[V any] func(v V, ok bool, err error)

// ValuesCallback receives the result of an asynchronous full read.
type ValuesCallback[V any] func(values []V, err error)

type options struct {
	capacity int
	name     string
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithCapacity sets the LRU capacity. Values <= 0 select DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithName labels the instance in logs and actor names.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Cache is a KeyValueCache. All methods are safe for concurrent use.
type Cache[V any] struct {
	id       int64
	name     string
	identity core.Identity[V]
	store    core.Store[V]
	bus      *notify.Bus
	db       *dispatch.Actor
	lru      *lru.Cache[int64, V]
	capacity int
	logger   *slog.Logger
	metrics  metrics
}

// New creates a cache over store, announcing changes on bus.
func New[V any](identity core.Identity[V], store core.Store[V], bus *notify.Bus, opts ...Option) (*Cache[V], error) {
	o := options{capacity: DefaultCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.capacity <= 0 {
		o.capacity = DefaultCapacity
	}

	cache, err := lru.New[int64, V](o.capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	id := core.NextInstanceID()
	if o.name == "" {
		o.name = fmt.Sprintf("kv-%d", id)
	}
	logger := o.logger.With("cache", o.name, "instance", id)

	return &Cache[V]{
		id:       id,
		name:     o.name,
		identity: identity,
		store:    store,
		bus:      bus,
		db:       dispatch.New("kv_db_"+o.name, dispatch.WithLogger(logger)),
		lru:      cache,
		capacity: o.capacity,
		logger:   logger,
	}, nil
}

// ID returns the instance id, the key of TopicUpdated notifications.
func (c *Cache[V]) ID() int64 { return c.id }

// Name returns the instance name.
func (c *Cache[V]) Name() string { return c.name }

// Capacity returns the LRU capacity.
func (c *Cache[V]) Capacity() int { return c.capacity }

// Len returns the number of memory-resident entries.
func (c *Cache[V]) Len() int { return c.lru.Len() }

// Keys returns the memory-resident ids from least to most recently used.
func (c *Cache[V]) Keys() []int64 { return c.lru.Keys() }

func (c *Cache[V]) remember(values ...V) {
	for _, v := range values {
		if c.lru.Add(c.identity.ID(v), v) {
			c.metrics.evictions.Add(1)
		}
	}
}

func (c *Cache[V]) storeFailed(op string, err error) {
	c.metrics.storeErrors.Add(1)
	c.logger.Error("store write failed", "op", op, "error", err)
}

func (c *Cache[V]) fire(ctx context.Context, n int) {
	c.bus.Fire(ctx, TopicUpdated, c.id, n)
}

// post queues fn on the store actor.
func (c *Cache[V]) post(op string, fn dispatch.Task) {
	if !c.db.Post(fn) {
		c.logger.Warn("cache closed, dropping store work", "op", op)
	}
}

// Put stores v in memory and queues its persistence.
func (c *Cache[V]) Put(v V) {
	c.remember(v)
	c.post("kv.put", func(ctx context.Context) {
		if err := c.store.InsertOrReplace(ctx, v); err != nil {
			c.storeFailed("kv.put", err)
		}
		c.fire(ctx, 1)
	})
}

// PutSync stores v in memory and persists it before returning.
// A store failure is returned but does not undo the memory update.
func (c *Cache[V]) PutSync(ctx context.Context, v V) error {
	c.remember(v)
	err := c.store.InsertOrReplace(ctx, v)
	if err != nil {
		c.storeFailed("kv.putSync", err)
	}
	c.fire(ctx, 1)
	return err
}

// PutAll stores values in memory and queues one batch write.
func (c *Cache[V]) PutAll(values []V) {
	batch := append([]V(nil), values...)
	c.remember(batch...)
	c.post("kv.putAll", func(ctx context.Context) {
		if err := c.store.InsertOrReplaceBatch(ctx, batch); err != nil {
			c.storeFailed("kv.putAll", err)
		}
		c.fire(ctx, len(batch))
	})
}

// PutAllSync stores values in memory and persists them before returning.
func (c *Cache[V]) PutAllSync(ctx context.Context, values []V) error {
	c.remember(values...)
	err := c.store.InsertOrReplaceBatch(ctx, values)
	if err != nil {
		c.storeFailed("kv.putAllSync", err)
	}
	c.fire(ctx, len(values))
	return err
}

// GetFromMemory looks id up in the LRU only. A hit promotes recency.
func (c *Cache[V]) GetFromMemory(id int64) (V, bool) {
	v, ok := c.lru.Get(id)
	if ok {
		c.metrics.hits.Add(1)
	} else {
		c.metrics.misses.Add(1)
	}
	return v, ok
}

// GetFromDiskSync reads id from the store and caches a hit.
// It fails with a WRONG_THREAD error when ctx is on the UI-affine loop.
func (c *Cache[V]) GetFromDiskSync(ctx context.Context, id int64) (V, bool, error) {
	var zero V
	if dispatch.IsAffine(ctx) {
		return zero, false, core.NewWrongThreadError("kv.getFromDiskSync")
	}

	v, ok, err := c.store.GetByID(ctx, id)
	if err != nil {
		c.logger.Error("store read failed", "op", "kv.getFromDiskSync", "id", id, "error", err)
		return zero, false, err
	}
	if ok {
		c.remember(v)
	}
	return v, ok, nil
}

// Get checks memory first and falls back to GetFromDiskSync.
func (c *Cache[V]) Get(ctx context.Context, id int64) (V, bool, error) {
	if v, ok := c.GetFromMemory(id); ok {
		return v, true, nil
	}
	return c.GetFromDiskSync(ctx, id)
}

// GetFromDisk reads id on the store actor and reports through cb, which
// runs on that actor.
func (c *Cache[V]) GetFromDisk(id int64, cb ValueCallback[V]) {
	c.post("kv.getFromDisk", func(ctx context.Context) {
		cb(c.GetFromDiskSync(ctx, id))
	})
}

// GetAllFromDiskSync reads every stored value. Like GetFromDiskSync it
// refuses to run on the UI-affine loop. The LRU is not populated.
func (c *Cache[V]) GetAllFromDiskSync(ctx context.Context) ([]V, error) {
	if dispatch.IsAffine(ctx) {
		return nil, core.NewWrongThreadError("kv.getAllFromDiskSync")
	}
	values, err := c.store.LoadAll(ctx)
	if err != nil {
		c.logger.Error("store read failed", "op", "kv.getAllFromDiskSync", "error", err)
		return nil, err
	}
	return values, nil
}

// GetAllFromDisk reads every stored value on the store actor.
func (c *Cache[V]) GetAllFromDisk(cb ValuesCallback[V]) {
	c.post("kv.getAllFromDisk", func(ctx context.Context) {
		cb(c.GetAllFromDiskSync(ctx))
	})
}

// Remove evicts id from memory and queues the store delete.
func (c *Cache[V]) Remove(id int64) {
	c.lru.Remove(id)
	c.post("kv.remove", func(ctx context.Context) {
		if err := c.store.Delete(ctx, id); err != nil {
			c.storeFailed("kv.remove", err)
		}
		c.fire(ctx, 1)
	})
}

// RemoveSync evicts id from memory and deletes it from the store inline.
func (c *Cache[V]) RemoveSync(ctx context.Context, id int64) error {
	c.lru.Remove(id)
	err := c.store.Delete(ctx, id)
	if err != nil {
		c.storeFailed("kv.removeSync", err)
	}
	c.fire(ctx, 1)
	return err
}

// Clear empties memory and queues a store delete-all.
func (c *Cache[V]) Clear() {
	n := c.lru.Len()
	c.lru.Purge()
	c.post("kv.clear", func(ctx context.Context) {
		if err := c.store.DeleteAll(ctx); err != nil {
			c.storeFailed("kv.clear", err)
		}
		c.fire(ctx, n)
	})
}

// ClearSync empties memory and the store before returning.
func (c *Cache[V]) ClearSync(ctx context.Context) error {
	n := c.lru.Len()
	c.lru.Purge()
	err := c.store.DeleteAll(ctx)
	if err != nil {
		c.storeFailed("kv.clearSync", err)
	}
	c.fire(ctx, n)
	return err
}

// Flush waits until every store operation queued before it has completed.
func (c *Cache[V]) Flush(ctx context.Context) error {
	return c.db.Barrier(ctx)
}

// Close drains queued store work and stops the store actor.
func (c *Cache[V]) Close(ctx context.Context) error {
	var err error
	if ferr := c.Flush(ctx); ferr != nil && !core.IsClosed(ferr) {
		err = multierr.Append(err, ferr)
	}
	err = multierr.Append(err, c.db.Close(ctx))
	if err == nil {
		c.logger.Debug("cache closed")
	}
	return err
}
