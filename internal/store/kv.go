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

// KVTable is the kv_items view for one table name.
type KVTable[V any] struct {
	s        *Store
	table    string
	identity core.Identity[V]
	codec    core.Codec[V]
	logger   *slog.Logger

	decodeErrors atomic.Int64
}

var _ core.Store[int] = (*KVTable[int])(nil)

// NewKVTable returns the key/value view for table.
func NewKVTable[V any](s *Store, table string, identity core.Identity[V], codec core.Codec[V], opts ...TableOption) *KVTable[V] {
	cfg := newTableConfig(opts)
	return &KVTable[V]{
		s:        s,
		table:    table,
		identity: identity,
		codec:    codec,
		logger:   cfg.logger.With("table", table),
	}
}

// Table returns the table name this view is scoped to.
func (t *KVTable[V]) Table() string { return t.table }

// DecodeErrors returns how many rows were skipped because they failed to decode.
func (t *KVTable[V]) DecodeErrors() int64 { return t.decodeErrors.Load() }

const (
	kvInsertSQL = `
		INSERT INTO kv_items (table_name, id, bytes)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name, id) DO NOTHING`

	kvUpsertSQL = `
		INSERT INTO kv_items (table_name, id, bytes)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET bytes = excluded.bytes`
)

func (t *KVTable[V]) exec(ctx context.Context, op, query string, values []V) error {
	if len(values) == 0 {
		return nil
	}
	err := t.s.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range values {
			b, err := t.codec.Encode(v)
			if err != nil {
				return fmt.Errorf("encode id %d: %w", t.identity.ID(v), err)
			}
			if _, err := tx.ExecContext(ctx, query, t.table, t.identity.ID(v), b); err != nil {
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
func (t *KVTable[V]) Insert(ctx context.Context, v V) error {
	return t.exec(ctx, "kv.insert", kvInsertSQL, []V{v})
}

// InsertBatch inserts values in one transaction.
func (t *KVTable[V]) InsertBatch(ctx context.Context, values []V) error {
	return t.exec(ctx, "kv.insertBatch", kvInsertSQL, values)
}

// InsertOrReplace stores v, replacing any row with the same id.
func (t *KVTable[V]) InsertOrReplace(ctx context.Context, v V) error {
	return t.exec(ctx, "kv.insertOrReplace", kvUpsertSQL, []V{v})
}

// InsertOrReplaceBatch upserts values in one transaction.
func (t *KVTable[V]) InsertOrReplaceBatch(ctx context.Context, values []V) error {
	return t.exec(ctx, "kv.insertOrReplaceBatch", kvUpsertSQL, values)
}

// Delete removes the row with the given id. Missing ids are not an error.
func (t *KVTable[V]) Delete(ctx context.Context, id int64) error {
	return t.DeleteBatch(ctx, []int64{id})
}

// DeleteBatch removes rows by id in one transaction.
func (t *KVTable[V]) DeleteBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := t.s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_items WHERE table_name = ? AND id = ?`, t.table, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.NewStoreIOError("kv.delete", err)
	}
	return nil
}

// DeleteAll removes every row of this table.
func (t *KVTable[V]) DeleteAll(ctx context.Context) error {
	if _, err := t.s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE table_name = ?`, t.table); err != nil {
		return core.NewStoreIOError("kv.deleteAll", err)
	}
	return nil
}

// GetByID returns the row with the given id. A row that fails to decode is
// reported as absent.
func (t *KVTable[V]) GetByID(ctx context.Context, id int64) (V, bool, error) {
	var zero V
	var b []byte
	err := t.s.db.QueryRowContext(ctx,
		`SELECT bytes FROM kv_items WHERE table_name = ? AND id = ?`, t.table, id,
	).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, core.NewStoreIOError("kv.getById", err)
	}

	v, err := t.codec.Decode(b)
	if err != nil {
		t.skip("kv.getById", id, err)
		return zero, false, nil
	}
	return v, true, nil
}

// LoadAll returns every decodable row ordered by id.
func (t *KVTable[V]) LoadAll(ctx context.Context) ([]V, error) {
	rows, err := t.s.db.QueryContext(ctx,
		`SELECT id, bytes FROM kv_items WHERE table_name = ? ORDER BY id ASC`, t.table)
	if err != nil {
		return nil, core.NewStoreIOError("kv.loadAll", err)
	}
	defer rows.Close()

	values := []V{}
	for rows.Next() {
		var id int64
		var b []byte
		if err := rows.Scan(&id, &b); err != nil {
			return nil, core.NewStoreIOError("kv.loadAll", err)
		}
		v, err := t.codec.Decode(b)
		if err != nil {
			t.skip("kv.loadAll", id, err)
			continue
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStoreIOError("kv.loadAll", err)
	}
	return values, nil
}

// Count returns the number of stored rows for this table.
func (t *KVTable[V]) Count(ctx context.Context) (int, error) {
	var n int
	err := t.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_items WHERE table_name = ?`, t.table).Scan(&n)
	if err != nil {
		return 0, core.NewStoreIOError("kv.count", err)
	}
	return n, nil
}

func (t *KVTable[V]) skip(op string, id int64, err error) {
	t.decodeErrors.Add(1)
	t.logger.Warn("skipping undecodable row",
		"error", core.NewDecodeError(op, id, err),
	)
}
