package core

import "context"

// Identity extracts the numeric identity of a record.
// Implementations must be pure: the same record always yields the same id.
type Identity[V any] interface {
	ID(v V) int64
}

// Ordering extracts the numeric sort key of a record. Only ordered
// collections (ListCache) need it.
type Ordering[V any] interface {
	SortKey(v V) int64
}

// Adapter is the full per-record-type adapter used by ordered collections.
type Adapter[V any] interface {
	Identity[V]
	Ordering[V]
}

// Codec turns records into bytes and back.
// Decode failures must be reported as errors, never as panics.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(b []byte) (V, error)
}

// Store is the durable backing store port for one collection.
//
// The engines only require that a Store is eventually consistent with the
// operations issued against it. Missing ids are not an error for Delete.
type Store[V any] interface {
	Insert(ctx context.Context, v V) error
	InsertBatch(ctx context.Context, values []V) error
	InsertOrReplace(ctx context.Context, v V) error
	InsertOrReplaceBatch(ctx context.Context, values []V) error
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) error
	DeleteAll(ctx context.Context) error

	// GetByID returns (zero, false, nil) when the id is not stored.
	GetByID(ctx context.Context, id int64) (V, bool, error)
	LoadAll(ctx context.Context) ([]V, error)
}

// Page is one offset/limit window read from a PageStore.
type Page[V any] struct {
	// Values holds the decoded rows in sort order.
	Values []V

	// Scanned counts every row read, including rows skipped because they
	// could not be decoded. Cursors advance by Scanned, not len(Values).
	Scanned int
}

// PageStore is a Store that can also be read by offset/limit. Rows are
// returned in the collection's sort order.
type PageStore[V any] interface {
	Store[V]
	LoadPage(ctx context.Context, limit, offset int) (Page[V], error)

	// Update rewrites the row with v's id. Missing ids are ignored.
	Update(ctx context.Context, v V) error
	UpdateBatch(ctx context.Context, values []V) error
}

// AdapterFuncs builds an Adapter from two plain functions.
type AdapterFuncs[V any] struct {
	IDFunc      func(V) int64
	SortKeyFunc func(V) int64
}

func (a AdapterFuncs[V]) ID(v V) int64      { return a.IDFunc(v) }
func (a AdapterFuncs[V]) SortKey(v V) int64 { return a.SortKeyFunc(v) }
