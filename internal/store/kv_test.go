package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/core"
	"github.com/roach88/cachekit/internal/record"
)

func TestKVTable_CRUD(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tbl := NewKVTable[record.Item](s, "users", record.Adapter{}, record.Codec{})

	require.NoError(t, tbl.InsertOrReplaceBatch(ctx, []record.Item{
		{ID: 3, Label: "c"}, {ID: 1, Label: "a"}, {ID: 2, Label: "b"},
	}))

	all, err := tbl.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, record.IDs(all))

	require.NoError(t, tbl.Insert(ctx, record.Item{ID: 1, Label: "ignored"}))
	got, ok, err := tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Label)

	require.NoError(t, tbl.InsertOrReplace(ctx, record.Item{ID: 1, Label: "z"}))
	got, _, err = tbl.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "z", got.Label)

	require.NoError(t, tbl.Delete(ctx, 2))
	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, tbl.DeleteAll(ctx))
	n, err = tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestKVTable_TablesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	a := NewKVTable[record.Item](s, "a", record.Adapter{}, record.Codec{})
	b := NewKVTable[record.Item](s, "b", record.Adapter{}, record.Codec{})

	require.NoError(t, a.InsertOrReplace(ctx, record.Item{ID: 1}))
	_, ok, err := b.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVTable_ClosedDatabaseIsStoreIO(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tbl := NewKVTable[record.Item](s, "a", record.Adapter{}, record.Codec{})
	require.NoError(t, s.Close())

	err := tbl.InsertOrReplace(ctx, record.Item{ID: 1})
	require.Error(t, err)
	assert.True(t, core.IsStoreIO(err))

	_, _, err = tbl.GetByID(ctx, 1)
	assert.True(t, core.IsStoreIO(err))
}
