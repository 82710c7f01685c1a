package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/cachekit/internal/core"
)

// Memory is an in-process PageStore. It records every call and can be told
// to fail or to hold reads, which makes it the store of choice for
// concurrency tests.
type Memory[V any] struct {
	adapter core.Adapter[V]
	order   Order

	mu       sync.Mutex
	rows     map[int64]V
	calls    []string
	failures map[string]error
	hold     <-chan struct{}
	reading  int
	maxReads int
}

var _ core.PageStore[int] = (*Memory[int])(nil)

// NewMemory returns an empty ordered memory store.
func NewMemory[V any](adapter core.Adapter[V], opts ...TableOption) *Memory[V] {
	cfg := newTableConfig(opts)
	return &Memory[V]{
		adapter:  adapter,
		order:    cfg.order,
		rows:     make(map[int64]V),
		failures: make(map[string]error),
	}
}

// NewKVMemory returns a memory store for unordered collections; rows are
// listed by id.
func NewKVMemory[V any](identity core.Identity[V]) *Memory[V] {
	return NewMemory[V](core.AdapterFuncs[V]{
		IDFunc:      identity.ID,
		SortKeyFunc: identity.ID,
	})
}

// Fail makes every subsequent call of op return err. A nil err clears it.
// op is the method name, e.g. "InsertOrReplace" or "LoadPage".
func (m *Memory[V]) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// HoldReads makes LoadPage, LoadAll and GetByID wait until ch is closed.
func (m *Memory[V]) HoldReads(ch <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = ch
}

// Calls returns the recorded calls, e.g. "Delete 7".
func (m *Memory[V]) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MaxConcurrentReads returns the highest number of overlapping reads seen.
func (m *Memory[V]) MaxConcurrentReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxReads
}

// Len returns the number of stored rows.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Count mirrors ListTable.Count.
func (m *Memory[V]) Count(context.Context) (int, error) {
	return m.Len(), nil
}

// Put stores v directly, bypassing call recording and failures.
func (m *Memory[V]) Put(values ...V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.rows[m.adapter.ID(v)] = v
	}
}

func (m *Memory[V]) begin(op string, arg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s %v", op, arg))
	if err := m.failures[op]; err != nil {
		return core.NewStoreIOError("memory."+op, err)
	}
	return nil
}

func (m *Memory[V]) beginRead(ctx context.Context, op string, arg any) error {
	if err := m.begin(op, arg); err != nil {
		return err
	}

	m.mu.Lock()
	m.reading++
	if m.reading > m.maxReads {
		m.maxReads = m.reading
	}
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			m.endRead()
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory[V]) endRead() {
	m.mu.Lock()
	m.reading--
	m.mu.Unlock()
}

func (m *Memory[V]) ids(values []V) []int64 {
	ids := make([]int64, len(values))
	for i, v := range values {
		ids[i] = m.adapter.ID(v)
	}
	return ids
}

func (m *Memory[V]) Insert(_ context.Context, v V) error {
	if err := m.begin("Insert", m.adapter.ID(v)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[m.adapter.ID(v)]; !ok {
		m.rows[m.adapter.ID(v)] = v
	}
	return nil
}

func (m *Memory[V]) InsertBatch(_ context.Context, values []V) error {
	if err := m.begin("InsertBatch", m.ids(values)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		if _, ok := m.rows[m.adapter.ID(v)]; !ok {
			m.rows[m.adapter.ID(v)] = v
		}
	}
	return nil
}

func (m *Memory[V]) InsertOrReplace(_ context.Context, v V) error {
	if err := m.begin("InsertOrReplace", m.adapter.ID(v)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[m.adapter.ID(v)] = v
	return nil
}

func (m *Memory[V]) InsertOrReplaceBatch(_ context.Context, values []V) error {
	if err := m.begin("InsertOrReplaceBatch", m.ids(values)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.rows[m.adapter.ID(v)] = v
	}
	return nil
}

func (m *Memory[V]) Update(_ context.Context, v V) error {
	if err := m.begin("Update", m.adapter.ID(v)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[m.adapter.ID(v)]; ok {
		m.rows[m.adapter.ID(v)] = v
	}
	return nil
}

func (m *Memory[V]) UpdateBatch(_ context.Context, values []V) error {
	if err := m.begin("UpdateBatch", m.ids(values)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		if _, ok := m.rows[m.adapter.ID(v)]; ok {
			m.rows[m.adapter.ID(v)] = v
		}
	}
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, id int64) error {
	if err := m.begin("Delete", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *Memory[V]) DeleteBatch(_ context.Context, ids []int64) error {
	if err := m.begin("DeleteBatch", ids); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.rows, id)
	}
	return nil
}

func (m *Memory[V]) DeleteAll(context.Context) error {
	if err := m.begin("DeleteAll", ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[int64]V)
	return nil
}

func (m *Memory[V]) GetByID(ctx context.Context, id int64) (V, bool, error) {
	var zero V
	if err := m.beginRead(ctx, "GetByID", id); err != nil {
		return zero, false, err
	}
	defer m.endRead()

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	return v, ok, nil
}

func (m *Memory[V]) LoadAll(ctx context.Context) ([]V, error) {
	if err := m.beginRead(ctx, "LoadAll", ""); err != nil {
		return nil, err
	}
	defer m.endRead()
	return m.sorted(), nil
}

func (m *Memory[V]) LoadPage(ctx context.Context, limit, offset int) (core.Page[V], error) {
	if err := m.beginRead(ctx, "LoadPage", fmt.Sprintf("%d/%d", limit, offset)); err != nil {
		return core.Page[V]{}, err
	}
	defer m.endRead()

	all := m.sorted()
	if offset >= len(all) {
		return core.Page[V]{Values: []V{}}, nil
	}
	end := min(offset+limit, len(all))
	values := append([]V{}, all[offset:end]...)
	return core.Page[V]{Values: values, Scanned: len(values)}, nil
}

func (m *Memory[V]) sorted() []V {
	m.mu.Lock()
	out := make([]V, 0, len(m.rows))
	for _, v := range m.rows {
		out = append(out, v)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ki, kj := m.adapter.SortKey(out[i]), m.adapter.SortKey(out[j])
		if ki == kj {
			ki, kj = m.adapter.ID(out[i]), m.adapter.ID(out[j])
		}
		if m.order == Descending {
			return ki > kj
		}
		return ki < kj
	})
	return out
}
