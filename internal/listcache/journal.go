package listcache

// A store read runs on the store actor, so it observes exactly the writes
// queued there before it. Writes and removes submitted while a read is in
// flight are journaled and replayed on top of what the read returned
// before it is merged into memory.
//
// The journal is guarded by indexMu. Store work is queued under the same
// lock, so journal order is the order in which the store applies it.

type journalEntry[V any] struct {
	// mode is zero for removals.
	mode    writeMode
	values  []V
	removed []int64
}

// beginRead registers a read and returns its journal position.
// Callers hold indexMu and queue the read before releasing it.
func (c *Cache[V]) beginRead() int {
	c.readers++
	return len(c.journal)
}

// endRead unregisters a read. The journal is dropped once no read needs it.
// Callers hold indexMu.
func (c *Cache[V]) endRead() {
	c.readers--
	if c.readers == 0 {
		c.journal = nil
	}
}

// record appends e if a read is in flight. Callers hold indexMu.
func (c *Cache[V]) record(e journalEntry[V]) {
	if c.readers > 0 {
		c.journal = append(c.journal, e)
	}
}

// reconcile replays the journal from start onto rows read from the store,
// with the same rules the store applies: an add never replaces, an update
// never creates and a removal always deletes. It returns the ids the
// journal added to rows, in journal order. Callers hold indexMu.
func (c *Cache[V]) reconcile(rows map[int64]V, start int) []int64 {
	var added []int64
	for _, e := range c.journal[start:] {
		for _, id := range e.removed {
			delete(rows, id)
		}
		for _, v := range e.values {
			id := c.adapter.ID(v)
			_, exists := rows[id]
			switch {
			case exists && e.mode.allowsUpdate():
				rows[id] = v
			case !exists && e.mode.allowsAdd():
				rows[id] = v
				added = append(added, id)
			}
		}
	}
	return added
}
