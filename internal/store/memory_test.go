package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/core"
	"github.com/roach88/cachekit/internal/record"
)

func TestMemory_PagesInSortOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[record.Item](record.Adapter{})
	m.Put(record.Item{ID: 1, Time: 30}, record.Item{ID: 2, Time: 10}, record.Item{ID: 3, Time: 20})

	p, err := m.LoadPage(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, record.IDs(p.Values))

	p, err = m.LoadPage(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, record.IDs(p.Values))
	assert.Equal(t, 1, p.Scanned)

	p, err = m.LoadPage(ctx, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, p.Values)
}

func TestMemory_UpdateNeverCreates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[record.Item](record.Adapter{})
	m.Put(record.Item{ID: 1, Label: "a"})

	require.NoError(t, m.Update(ctx, record.Item{ID: 1, Label: "a2"}))
	require.NoError(t, m.UpdateBatch(ctx, []record.Item{{ID: 2, Label: "b"}}))

	got, ok, err := m.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", got.Label)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"Update 1", "UpdateBatch [2]", "GetByID 1"}, m.Calls())
}

func TestMemory_InsertSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewKVMemory[record.Item](record.Adapter{})

	require.NoError(t, m.Insert(ctx, record.Item{ID: 1, Label: "a"}))
	require.NoError(t, m.Insert(ctx, record.Item{ID: 1, Label: "b"}))
	v, _, _ := m.GetByID(ctx, 1)
	assert.Equal(t, "a", v.Label)

	require.NoError(t, m.InsertOrReplace(ctx, record.Item{ID: 1, Label: "c"}))
	v, _, _ = m.GetByID(ctx, 1)
	assert.Equal(t, "c", v.Label)

	assert.Equal(t, []string{"Insert 1", "Insert 1", "GetByID 1", "InsertOrReplace 1", "GetByID 1"}, m.Calls())
}

func TestMemory_Fail(t *testing.T) {
	ctx := context.Background()
	m := NewKVMemory[record.Item](record.Adapter{})
	m.Fail("Delete", errors.New("disk full"))

	err := m.Delete(ctx, 1)
	require.Error(t, err)
	assert.True(t, core.IsStoreIO(err))

	m.Fail("Delete", nil)
	assert.NoError(t, m.Delete(ctx, 1))
}

func TestMemory_HoldReads(t *testing.T) {
	m := NewKVMemory[record.Item](record.Adapter{})
	release := make(chan struct{})
	m.HoldReads(release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.LoadAll(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("read should be held")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.Equal(t, 1, m.MaxConcurrentReads())
}
