package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/record"
)

func newTestList(t *testing.T, s *Store, listID string, opts ...TableOption) *ListTable[record.Item] {
	t.Helper()
	return NewListTable[record.Item](s, listID, record.Adapter{}, record.Codec{}, opts...)
}

func TestListTable_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.Insert(ctx, record.Item{ID: 1, Time: 10, Label: "a"}))

	got, ok, err := tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.Item{ID: 1, Time: 10, Label: "a"}, got)

	_, ok, err = tbl.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListTable_InsertKeepsExisting(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.Insert(ctx, record.Item{ID: 1, Time: 10, Label: "first"}))
	require.NoError(t, tbl.Insert(ctx, record.Item{ID: 1, Time: 20, Label: "second"}))

	got, _, err := tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Label)
}

func TestListTable_InsertOrReplace(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.InsertOrReplace(ctx, record.Item{ID: 1, Time: 10, Label: "a"}))
	require.NoError(t, tbl.InsertOrReplace(ctx, record.Item{ID: 1, Time: 20, Label: "b"}))

	got, _, err := tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, record.Item{ID: 1, Time: 20, Label: "b"}, got)

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListTable_UpdateNeverCreates(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.Insert(ctx, record.Item{ID: 1, Time: 10, Label: "a"}))
	require.NoError(t, tbl.Update(ctx, record.Item{ID: 1, Time: 30, Label: "a2"}))
	require.NoError(t, tbl.Update(ctx, record.Item{ID: 2, Time: 20, Label: "b"}))
	require.NoError(t, tbl.UpdateBatch(ctx, []record.Item{
		{ID: 1, Time: 40, Label: "a3"},
		{ID: 3, Time: 5, Label: "c"},
	}))

	got, ok, err := tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.Item{ID: 1, Time: 40, Label: "a3"}, got)

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListTable_UpdateStaysInList(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	inbox := newTestList(t, s, "inbox")
	archive := newTestList(t, s, "archive")

	require.NoError(t, inbox.Insert(ctx, record.Item{ID: 1, Time: 10, Label: "inbox"}))
	require.NoError(t, archive.Insert(ctx, record.Item{ID: 1, Time: 10, Label: "archive"}))
	require.NoError(t, archive.Update(ctx, record.Item{ID: 1, Time: 99, Label: "moved"}))

	got, _, err := inbox.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "inbox", got.Label)
	got, _, err = archive.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "moved", got.Label)
}

func TestListTable_LoadPage_Ascending(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.InsertBatch(ctx, []record.Item{
		{ID: 1, Time: 30}, {ID: 2, Time: 10}, {ID: 3, Time: 20}, {ID: 4, Time: 20},
	}))

	p1, err := tbl.LoadPage(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, record.IDs(p1.Values))
	assert.Equal(t, 2, p1.Scanned)

	p2, err := tbl.LoadPage(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1}, record.IDs(p2.Values), "ties on sort key break by id")

	p3, err := tbl.LoadPage(ctx, 2, 4)
	require.NoError(t, err)
	assert.Empty(t, p3.Values)
	assert.NotNil(t, p3.Values)
}

func TestListTable_LoadAll_Descending(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox", WithOrder(Descending))

	require.NoError(t, tbl.InsertBatch(ctx, []record.Item{
		{ID: 1, Time: 30}, {ID: 2, Time: 10}, {ID: 3, Time: 20},
	}))

	all, err := tbl.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, record.IDs(all))
}

func TestListTable_ListsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	a := newTestList(t, s, "a")
	b := newTestList(t, s, "b")

	require.NoError(t, a.Insert(ctx, record.Item{ID: 1, Time: 1}))
	require.NoError(t, b.Insert(ctx, record.Item{ID: 1, Time: 1}))
	require.NoError(t, b.Insert(ctx, record.Item{ID: 2, Time: 2}))

	require.NoError(t, a.DeleteAll(ctx))

	na, err := a.Count(ctx)
	require.NoError(t, err)
	nb, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, na)
	assert.Equal(t, 2, nb)
}

func TestListTable_Delete(t *testing.T) {
	ctx := context.Background()
	tbl := newTestList(t, createTestStore(t), "inbox")

	require.NoError(t, tbl.InsertOrReplaceBatch(ctx, []record.Item{
		{ID: 1, Time: 1}, {ID: 2, Time: 2}, {ID: 3, Time: 3},
	}))

	require.NoError(t, tbl.Delete(ctx, 2))
	require.NoError(t, tbl.Delete(ctx, 99), "missing id is not an error")
	require.NoError(t, tbl.DeleteBatch(ctx, []int64{3}))

	all, err := tbl.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, record.IDs(all))
}

func TestListTable_SkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tbl := newTestList(t, s, "inbox")

	require.NoError(t, tbl.InsertBatch(ctx, []record.Item{{ID: 1, Time: 1}, {ID: 3, Time: 3}}))
	_, err := s.db.Exec(`INSERT INTO list_items (list_id, id, sort_key, bytes) VALUES ('inbox', 2, 2, 'not json')`)
	require.NoError(t, err)

	page, err := tbl.LoadPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, record.IDs(page.Values))
	assert.Equal(t, 3, page.Scanned, "skipped rows still advance the cursor")

	_, ok, err := tbl.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok, "undecodable row reads as absent")

	assert.Equal(t, int64(2), tbl.DecodeErrors())
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("desc")
	require.NoError(t, err)
	assert.Equal(t, Descending, o)
	assert.Equal(t, "desc", o.String())

	o, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, Ascending, o)

	_, err = ParseOrder("sideways")
	assert.Error(t, err)
}
