package listcache

import (
	"context"

	"github.com/roach88/cachekit/internal/core"
)

type writeMode int

const (
	modeUpdate writeMode = iota + 1
	modeAdd
	modeUpsert
)

func (m writeMode) allowsAdd() bool    { return m == modeAdd || m == modeUpsert }
func (m writeMode) allowsUpdate() bool { return m == modeUpdate || m == modeUpsert }

func (m writeMode) String() string {
	switch m {
	case modeUpdate:
		return "update"
	case modeAdd:
		return "add"
	}
	return "upsert"
}

// Add inserts v unless its id is already present.
func (c *Cache[V]) Add(v V) { c.write(modeAdd, []V{v}) }

// Update replaces v's record if its id is present in memory.
func (c *Cache[V]) Update(v V) { c.write(modeUpdate, []V{v}) }

// AddOrUpdate inserts or replaces v.
func (c *Cache[V]) AddOrUpdate(v V) { c.write(modeUpsert, []V{v}) }

// AddBatch is Add over values in a single cycle.
func (c *Cache[V]) AddBatch(values []V) { c.write(modeAdd, values) }

// UpdateBatch is Update over values in a single cycle.
func (c *Cache[V]) UpdateBatch(values []V) { c.write(modeUpdate, values) }

// AddOrUpdateBatch is AddOrUpdate over values in a single cycle.
func (c *Cache[V]) AddOrUpdateBatch(values []V) { c.write(modeUpsert, values) }

// write is the single primitive behind every add/update variant.
//
// Memory only takes the values the mode allows given current membership.
// The store always receives the whole batch: an update of a record that is
// not paged into memory must still reach the store. An update never creates
// a row, in memory or in the store.
func (c *Cache[V]) write(mode writeMode, values []V) {
	if len(values) == 0 {
		return
	}
	values = c.dedupe(values)
	op := "list." + mode.String()

	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	accepted := make([]V, 0, len(values))
	for _, v := range values {
		id := c.adapter.ID(v)
		_, exists := c.index[id]
		if (exists && mode.allowsUpdate()) || (!exists && mode.allowsAdd()) {
			c.index[id] = v
			accepted = append(accepted, v)
		}
	}
	if len(accepted) > 0 {
		c.submit(op, c.upsertMutation(accepted))
	}
	c.record(journalEntry[V]{mode: mode, values: values})

	batch := values
	switch {
	case mode == modeAdd && len(batch) == 1:
		c.persist(op, func(ctx context.Context) error { return c.store.Insert(ctx, batch[0]) })
	case mode == modeAdd:
		c.persist(op, func(ctx context.Context) error { return c.store.InsertBatch(ctx, batch) })
	case mode == modeUpdate && len(batch) == 1:
		c.persist(op, func(ctx context.Context) error { return c.store.Update(ctx, batch[0]) })
	case mode == modeUpdate:
		c.persist(op, func(ctx context.Context) error { return c.store.UpdateBatch(ctx, batch) })
	case len(batch) == 1:
		c.persist(op, func(ctx context.Context) error { return c.store.InsertOrReplace(ctx, batch[0]) })
	default:
		c.persist(op, func(ctx context.Context) error { return c.store.InsertOrReplaceBatch(ctx, batch) })
	}

	c.logger.Debug("write submitted",
		"op", op,
		"values", len(values),
		"accepted", len(accepted),
	)
}

// Remove drops id from memory and always deletes it from the store, even
// when it was not in memory.
func (c *Cache[V]) Remove(id int64) {
	c.RemoveBatch([]int64{id})
}

// RemoveBatch is Remove over ids in a single cycle and one store call.
func (c *Cache[V]) RemoveBatch(ids []int64) {
	if len(ids) == 0 {
		return
	}
	batch := append([]int64(nil), ids...)

	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	gone := make(map[int64]struct{}, len(batch))
	for _, id := range batch {
		if _, ok := c.index[id]; ok {
			delete(c.index, id)
			gone[id] = struct{}{}
		}
	}
	if len(gone) > 0 {
		c.submit("list.remove", c.removeMutation(gone))
	}
	c.record(journalEntry[V]{removed: batch})

	if len(batch) == 1 {
		c.persist("list.remove", func(ctx context.Context) error { return c.store.Delete(ctx, batch[0]) })
		return
	}
	c.persist("list.remove", func(ctx context.Context) error { return c.store.DeleteBatch(ctx, batch) })
}

// beginLoad applies the load guard. It reports whether a load may start
// and, if so, the cursor snapshot it starts from.
func (c *Cache[V]) beginLoad() (cursor, bool) {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if c.cursor.loading || c.cursor.lastPageSize <= 0 {
		return cursor{}, false
	}
	c.cursor.loading = true
	return c.cursor, true
}

// endLoad releases the guard unless a Clear replaced the cursor meanwhile.
func (c *Cache[V]) endLoad(epoch uint64, update func(cur *cursor)) bool {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if c.cursor.epoch != epoch {
		return false
	}
	if update != nil {
		update(&c.cursor)
	}
	c.cursor.loading = false
	return true
}

func (c *Cache[V]) epoch() uint64 {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor.epoch
}

// startRead registers a store read and queues task on the store actor.
// task receives the read's journal position. It returns false when the
// load guard refused (load only) or the cache is closed.
func (c *Cache[V]) startRead(load bool, task func(ctx context.Context, cur cursor, start int)) bool {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	var cur cursor
	if load {
		var ok bool
		if cur, ok = c.beginLoad(); !ok {
			return false
		}
	} else {
		cur.epoch = c.epoch()
	}

	start := c.beginRead()
	if !c.db.Post(func(ctx context.Context) { task(ctx, cur, start) }) {
		c.endRead()
		if load {
			c.endLoad(cur.epoch, nil)
		}
		return false
	}
	return true
}

// failLoad releases a load whose store read failed.
func (c *Cache[V]) failLoad(cur cursor) {
	c.indexMu.Lock()
	c.endRead()
	c.indexMu.Unlock()
	c.endLoad(cur.epoch, nil)
}

// LoadNextPage reads the next limit rows from the store and merges them.
// It is a no-op (returning false) while a load is in flight or after a
// page came back empty. Rows whose id is already in memory are skipped:
// memory is the authoritative view.
func (c *Cache[V]) LoadNextPage(limit int) bool {
	if limit <= 0 {
		return false
	}
	return c.startRead(true, func(ctx context.Context, cur cursor, start int) {
		page, err := c.store.LoadPage(ctx, limit, cur.offset)
		if err != nil {
			c.metrics.storeErrors.Add(1)
			c.logger.Error("page load failed", "offset", cur.offset, "limit", limit, "error", err)
			c.failLoad(cur)
			return
		}
		c.metrics.pages.Add(1)

		c.indexMu.Lock()
		defer c.indexMu.Unlock()
		defer c.endRead()

		stillCurrent := c.endLoad(cur.epoch, func(cc *cursor) {
			cc.lastPageSize = page.Scanned
			cc.offset += page.Scanned
		})
		if !stillCurrent {
			c.logger.Debug("discarding page loaded before clear", "offset", cur.offset)
			return
		}

		rows := make(map[int64]V, len(page.Values))
		for _, v := range page.Values {
			rows[c.adapter.ID(v)] = v
		}
		c.reconcile(rows, start)

		fresh := make([]V, 0, len(page.Values))
		for _, v := range page.Values {
			id := c.adapter.ID(v)
			latest, live := rows[id]
			if _, exists := c.index[id]; exists || !live {
				continue
			}
			c.index[id] = latest
			fresh = append(fresh, latest)
		}
		if len(fresh) > 0 {
			c.submit("list.loadPage", c.upsertMutation(fresh))
		}
		c.logger.Debug("page loaded",
			"offset", cur.offset,
			"scanned", page.Scanned,
			"merged", len(fresh),
		)
	})
}

// LoadAll replaces memory with the full store contents, under the same
// guard as LoadNextPage. The cursor is rebased past the loaded rows.
// Writes and removes made while the load is in flight are kept.
func (c *Cache[V]) LoadAll() bool {
	return c.startRead(true, func(ctx context.Context, cur cursor, start int) {
		values, err := c.store.LoadAll(ctx)
		if err != nil {
			c.metrics.storeErrors.Add(1)
			c.logger.Error("full load failed", "error", err)
			c.failLoad(cur)
			return
		}
		values = c.dedupe(values)

		c.indexMu.Lock()
		defer c.indexMu.Unlock()
		defer c.endRead()

		stillCurrent := c.endLoad(cur.epoch, func(cc *cursor) {
			cc.offset = len(values)
			cc.lastPageSize = len(values)
		})
		if !stillCurrent {
			return
		}

		rows := make(map[int64]V, len(values))
		for _, v := range values {
			rows[c.adapter.ID(v)] = v
		}
		added := c.reconcile(rows, start)

		merged := make([]V, 0, len(rows))
		seen := make(map[int64]struct{}, len(rows))
		for _, v := range values {
			id := c.adapter.ID(v)
			if latest, ok := rows[id]; ok {
				seen[id] = struct{}{}
				merged = append(merged, latest)
			}
		}
		for _, id := range added {
			latest, ok := rows[id]
			if _, dup := seen[id]; dup || !ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, latest)
		}

		c.index = rows
		c.submit("list.loadAll", c.replaceMutation(merged))
		c.logger.Debug("list loaded", "rows", len(values), "merged", len(merged))
	})
}

// GetValueFromDB reads id from the store on the store actor and reports the
// result through cb, which runs on that actor. A hit for an id that is not
// in memory is merged into memory without writing back to the store, unless
// a Clear or a Remove of id happened while the read was in flight.
func (c *Cache[V]) GetValueFromDB(id int64, cb func(v V, ok bool, err error)) {
	posted := c.startRead(false, func(ctx context.Context, cur cursor, start int) {
		v, ok, err := c.store.GetByID(ctx, id)
		if err != nil {
			c.metrics.storeErrors.Add(1)
			c.logger.Error("store read failed", "op", "list.getValueFromDb", "id", id, "error", err)
		}

		c.indexMu.Lock()
		if ok && c.epoch() == cur.epoch {
			rows := map[int64]V{id: v}
			c.reconcile(rows, start)
			latest, live := rows[id]
			if _, exists := c.index[id]; live && !exists {
				c.index[id] = latest
				c.submit("list.getValueFromDb", c.upsertMutation([]V{latest}))
			}
		}
		c.endRead()
		c.indexMu.Unlock()

		if cb != nil {
			cb(v, ok, err)
		}
	})
	if !posted && cb != nil {
		var zero V
		cb(zero, false, core.ErrClosed)
	}
}

// Clear empties memory, resets the page cursor and deletes every stored
// row. The buffers are emptied by a regular cycle, so the clear is ordered
// after every mutation already submitted and lands through the UI loop
// like any other change. The notification carries minus the removed count.
// Reads in flight are discarded when they complete.
func (c *Cache[V]) Clear() {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	c.index = make(map[int64]V)

	c.cursorMu.Lock()
	c.cursor = initialCursor(c.cursor.epoch + 1)
	c.cursorMu.Unlock()

	c.submit("list.clear", func([]V) []V { return nil })
	c.persist("list.clear", c.store.DeleteAll)
}
