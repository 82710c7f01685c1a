package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/cachekit/internal/core"
)

// Order is the direction of page reads.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseOrder accepts "asc" or "desc"; anything else is an error.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("invalid order %q: must be asc or desc", s)
}

type tableConfig struct {
	order  Order
	logger *slog.Logger
}

// TableOption configures a ListTable or KVTable.
type TableOption func(*tableConfig)

// WithOrder sets the page read direction of a ListTable. Ignored by KVTable.
func WithOrder(o Order) TableOption {
	return func(c *tableConfig) { c.order = o }
}

// WithLogger sets the logger used for skipped rows.
func WithLogger(l *slog.Logger) TableOption {
	return func(c *tableConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func newTableConfig(opts []TableOption) tableConfig {
	cfg := tableConfig{order: Ascending, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ListTable is the list_items view for one list id.
type ListTable[V any] struct {
	s       *Store
	listID  string
	adapter core.Adapter[V]
	codec   core.Codec[V]
	order   Order
	logger  *slog.Logger

	decodeErrors atomic.Int64
}

var _ core.PageStore[int] = (*ListTable[int])(nil)

// NewListTable returns the table view for listID.
func NewListTable[V any](s *Store, listID string, adapter core.Adapter[V], codec core.Codec[V], opts ...TableOption) *ListTable[V] {
	cfg := newTableConfig(opts)
	return &ListTable[V]{
		s:       s,
		listID:  listID,
		adapter: adapter,
		codec:   codec,
		order:   cfg.order,
		logger:  cfg.logger.With("list", listID),
	}
}

// ListID returns the list id this view is scoped to.
func (t *ListTable[V]) ListID() string { return t.listID }

// DecodeErrors returns how many rows were skipped because they failed to decode.
func (t *ListTable[V]) DecodeErrors() int64 { return t.decodeErrors.Load() }

const (
	listInsertSQL = `
		INSERT INTO list_items (list_id, id, sort_key, bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(list_id, id) DO NOTHING`

	listUpsertSQL = `
		INSERT INTO list_items (list_id, id, sort_key, bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(list_id, id) DO UPDATE SET
			sort_key = excluded.sort_key,
			bytes = excluded.bytes`

	// Positional parameters keep the argument order of the inserts.
	listUpdateSQL = `
		UPDATE list_items SET sort_key = ?3, bytes = ?4
		WHERE list_id = ?1 AND id = ?2`
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (t *ListTable[V]) write(ctx context.Context, ex execer, query string, v V) error {
	b, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode id %d: %w", t.adapter.ID(v), err)
	}
	_, err = ex.ExecContext(ctx, query, t.listID, t.adapter.ID(v), t.adapter.SortKey(v), b)
	return err
}

func (t *ListTable[V]) writeBatch(ctx context.Context, op, query string, values []V) error {
	if len(values) == 0 {
		return nil
	}
	err := t.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, v := range values {
			b, err := t.codec.Encode(v)
			if err != nil {
				return fmt.Errorf("encode id %d: %w", t.adapter.ID(v), err)
			}
			if _, err := stmt.ExecContext(ctx, t.listID, t.adapter.ID(v), t.adapter.SortKey(v), b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.NewStoreIOError(op, err)
	}
	return nil
}

// Insert stores v unless a row with the same id already exists.
func (t *ListTable[V]) Insert(ctx context.Context, v V) error {
	if err := t.write(ctx, t.s.db, listInsertSQL, v); err != nil {
		return core.NewStoreIOError("list.insert", err)
	}
	return nil
}

// InsertBatch inserts values in one transaction.
func (t *ListTable[V]) InsertBatch(ctx context.Context, values []V) error {
	return t.writeBatch(ctx, "list.insertBatch", listInsertSQL, values)
}

// InsertOrReplace stores v, replacing any row with the same id.
func (t *ListTable[V]) InsertOrReplace(ctx context.Context, v V) error {
	if err := t.write(ctx, t.s.db, listUpsertSQL, v); err != nil {
		return core.NewStoreIOError("list.insertOrReplace", err)
	}
	return nil
}

// InsertOrReplaceBatch upserts values in one transaction.
func (t *ListTable[V]) InsertOrReplaceBatch(ctx context.Context, values []V) error {
	return t.writeBatch(ctx, "list.insertOrReplaceBatch", listUpsertSQL, values)
}

// Update rewrites the row with v's id. It never creates a row.
func (t *ListTable[V]) Update(ctx context.Context, v V) error {
	if err := t.write(ctx, t.s.db, listUpdateSQL, v); err != nil {
		return core.NewStoreIOError("list.update", err)
	}
	return nil
}

// UpdateBatch updates values in one transaction.
func (t *ListTable[V]) UpdateBatch(ctx context.Context, values []V) error {
	return t.writeBatch(ctx, "list.updateBatch", listUpdateSQL, values)
}

// Delete removes the row with the given id. Missing ids are not an error.
func (t *ListTable[V]) Delete(ctx context.Context, id int64) error {
	_, err := t.s.db.ExecContext(ctx, `DELETE FROM list_items WHERE list_id = ? AND id = ?`, t.listID, id)
	if err != nil {
		return core.NewStoreIOError("list.delete", err)
	}
	return nil
}

// DeleteBatch removes rows by id in one transaction.
func (t *ListTable[V]) DeleteBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := t.s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE list_id = ? AND id = ?`, t.listID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.NewStoreIOError("list.deleteBatch", err)
	}
	return nil
}

// DeleteAll removes every row of this list. Other lists are untouched.
func (t *ListTable[V]) DeleteAll(ctx context.Context) error {
	if _, err := t.s.db.ExecContext(ctx, `DELETE FROM list_items WHERE list_id = ?`, t.listID); err != nil {
		return core.NewStoreIOError("list.deleteAll", err)
	}
	return nil
}

// GetByID returns the row with the given id. A row that fails to decode is
// reported as absent.
func (t *ListTable[V]) GetByID(ctx context.Context, id int64) (V, bool, error) {
	var zero V
	var b []byte
	err := t.s.db.QueryRowContext(ctx,
		`SELECT bytes FROM list_items WHERE list_id = ? AND id = ?`, t.listID, id,
	).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, core.NewStoreIOError("list.getById", err)
	}

	v, err := t.codec.Decode(b)
	if err != nil {
		t.skip("list.getById", id, err)
		return zero, false, nil
	}
	return v, true, nil
}

// LoadAll returns every row of this list in page order.
func (t *ListTable[V]) LoadAll(ctx context.Context) ([]V, error) {
	page, err := t.query(ctx, "list.loadAll", t.selectSQL(false))
	if err != nil {
		return nil, err
	}
	return page.Values, nil
}

// LoadPage returns up to limit rows starting at offset, in page order.
func (t *ListTable[V]) LoadPage(ctx context.Context, limit, offset int) (core.Page[V], error) {
	return t.query(ctx, "list.loadPage", t.selectSQL(true), limit, offset)
}

// Count returns the number of stored rows for this list.
func (t *ListTable[V]) Count(ctx context.Context) (int, error) {
	var n int
	err := t.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM list_items WHERE list_id = ?`, t.listID).Scan(&n)
	if err != nil {
		return 0, core.NewStoreIOError("list.count", err)
	}
	return n, nil
}

func (t *ListTable[V]) selectSQL(paged bool) string {
	dir := "ASC"
	if t.order == Descending {
		dir = "DESC"
	}
	q := fmt.Sprintf(`
		SELECT id, bytes FROM list_items
		WHERE list_id = ?
		ORDER BY sort_key %s, id %s`, dir, dir)
	if paged {
		q += ` LIMIT ? OFFSET ?`
	}
	return q
}

func (t *ListTable[V]) query(ctx context.Context, op, query string, args ...any) (core.Page[V], error) {
	rows, err := t.s.db.QueryContext(ctx, query, append([]any{t.listID}, args...)...)
	if err != nil {
		return core.Page[V]{}, core.NewStoreIOError(op, err)
	}
	defer rows.Close()

	page := core.Page[V]{Values: []V{}}
	for rows.Next() {
		var id int64
		var b []byte
		if err := rows.Scan(&id, &b); err != nil {
			return core.Page[V]{}, core.NewStoreIOError(op, err)
		}
		page.Scanned++

		v, err := t.codec.Decode(b)
		if err != nil {
			t.skip(op, id, err)
			continue
		}
		page.Values = append(page.Values, v)
	}
	if err := rows.Err(); err != nil {
		return core.Page[V]{}, core.NewStoreIOError(op, err)
	}
	return page, nil
}

func (t *ListTable[V]) skip(op string, id int64, err error) {
	t.decodeErrors.Add(1)
	t.logger.Warn("skipping undecodable row",
		"error", core.NewDecodeError(op, id, err),
	)
}
