package kvcache

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cachekit/internal/core"
	"github.com/roach88/cachekit/internal/record"
	"github.com/roach88/cachekit/internal/store"
	"github.com/roach88/cachekit/internal/testutil"
)

type fixture struct {
	env   *testutil.Env
	store *store.Memory[record.Item]
	cache *Cache[record.Item]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	env := testutil.NewEnv(t)
	mem := store.NewKVMemory[record.Item](record.Adapter{})
	c, err := New[record.Item](record.Adapter{}, mem, env.Bus, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return &fixture{env: env, store: mem, cache: c}
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cache.Flush(context.Background()))
	f.env.Settle(t)
}

func item(id int64) record.Item {
	return record.Item{ID: id, Time: id, Label: "v"}
}

func TestCache_DefaultCapacity(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultCapacity, f.cache.Capacity())

	g := newFixture(t, WithCapacity(-1))
	assert.Equal(t, DefaultCapacity, g.cache.Capacity())
}

func TestCache_LRUEvictsLeastRecentlyUsed(t *testing.T) {
	f := newFixture(t, WithCapacity(2))
	a, b, c := item(1), item(2), item(3)

	f.cache.Put(a)
	f.cache.Put(b)
	_, ok := f.cache.GetFromMemory(a.ID)
	require.True(t, ok)
	f.cache.Put(c)

	_, ok = f.cache.GetFromMemory(b.ID)
	assert.False(t, ok, "B was least recently used")
	_, ok = f.cache.GetFromMemory(a.ID)
	assert.True(t, ok)
	_, ok = f.cache.GetFromMemory(c.ID)
	assert.True(t, ok)

	assert.Equal(t, int64(1), f.cache.Metrics().Evictions)
}

func TestCache_CapacityPlusOne(t *testing.T) {
	f := newFixture(t, WithCapacity(5))
	for i := int64(1); i <= 6; i++ {
		f.cache.Put(item(i))
	}
	assert.Equal(t, 5, f.cache.Len())
	assert.Equal(t, []int64{2, 3, 4, 5, 6}, f.cache.Keys())
}

func TestCache_EvictionNeverDeletesFromStore(t *testing.T) {
	f := newFixture(t, WithCapacity(1))
	f.cache.Put(item(1))
	f.cache.Put(item(2))
	f.flush(t)

	assert.Equal(t, 2, f.store.Len())

	v, ok, err := f.cache.GetFromDiskSync(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.ID)

	_, ok = f.cache.GetFromMemory(1)
	assert.True(t, ok, "disk hit populates memory")
}

func TestCache_PutFiresAfterStoreWrite(t *testing.T) {
	f := newFixture(t)
	rec := testutil.NewRecorder()
	sub := f.env.Bus.Subscribe(context.Background(), TopicUpdated, f.cache.ID(), rec)

	f.cache.Put(item(1))
	f.cache.PutAll([]record.Item{item(2), item(3)})
	f.flush(t)

	assert.Equal(t, []any{1, 2}, rec.Payloads())
	assert.Equal(t, []string{"InsertOrReplace 1", "InsertOrReplaceBatch [2 3]"}, f.store.Calls())
	runtime.KeepAlive(sub)
}

func TestCache_PutSync(t *testing.T) {
	f := newFixture(t)
	rec := testutil.NewRecorder()
	sub := f.env.Bus.Subscribe(context.Background(), TopicUpdated, f.cache.ID(), rec)

	require.NoError(t, f.cache.PutSync(context.Background(), item(1)))
	assert.Equal(t, 1, f.store.Len(), "persisted before return")

	require.NoError(t, f.cache.PutAllSync(context.Background(), []record.Item{item(2), item(3)}))
	assert.Equal(t, 3, f.store.Len())

	f.env.Settle(t)
	assert.Equal(t, []any{1, 2}, rec.Payloads())
	runtime.KeepAlive(sub)
}

func TestCache_StoreFailureDoesNotRollBackMemory(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("InsertOrReplace", errors.New("disk full"))

	err := f.cache.PutSync(context.Background(), item(1))
	require.Error(t, err)
	assert.True(t, core.IsStoreIO(err))

	_, ok := f.cache.GetFromMemory(1)
	assert.True(t, ok)

	f.cache.Put(item(2))
	f.flush(t)
	_, ok = f.cache.GetFromMemory(2)
	assert.True(t, ok)
	assert.Equal(t, int64(2), f.cache.Metrics().StoreErrors)
}

func TestCache_GetFromDiskSync_WrongThread(t *testing.T) {
	f := newFixture(t)
	f.store.Put(item(1))

	var err error
	f.env.OnUI(t, func(ctx context.Context) {
		_, _, err = f.cache.GetFromDiskSync(ctx, 1)
	})
	require.Error(t, err)
	assert.True(t, core.IsWrongThread(err))

	f.env.OnUI(t, func(ctx context.Context) {
		_, err = f.cache.GetAllFromDiskSync(ctx)
	})
	assert.True(t, core.IsWrongThread(err))

	_, _, err = f.cache.GetFromDiskSync(context.Background(), 1)
	assert.NoError(t, err)
}

func TestCache_Get_FallsBackToDisk(t *testing.T) {
	f := newFixture(t)
	f.store.Put(item(9))

	v, ok, err := f.cache.Get(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), v.ID)

	_, ok, err = f.cache.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, ok)

	m := f.cache.Metrics()
	assert.Equal(t, int64(2), m.Misses)
}

func TestCache_AsyncReads(t *testing.T) {
	f := newFixture(t)
	f.store.Put(item(1), item(2))

	got := make(chan record.Item, 1)
	f.cache.GetFromDisk(1, func(v record.Item, ok bool, err error) {
		assert.NoError(t, err)
		assert.True(t, ok)
		got <- v
	})

	all := make(chan []record.Item, 1)
	f.cache.GetAllFromDisk(func(values []record.Item, err error) {
		assert.NoError(t, err)
		all <- values
	})

	select {
	case v := <-got:
		assert.Equal(t, int64(1), v.ID)
	case <-time.After(time.Second):
		t.Fatal("GetFromDisk callback not invoked")
	}
	select {
	case values := <-all:
		assert.Equal(t, []int64{1, 2}, record.IDs(values))
	case <-time.After(time.Second):
		t.Fatal("GetAllFromDisk callback not invoked")
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	f := newFixture(t)
	rec := testutil.NewRecorder()
	sub := f.env.Bus.Subscribe(context.Background(), TopicUpdated, f.cache.ID(), rec)

	f.cache.PutAll([]record.Item{item(1), item(2), item(3)})
	f.cache.Remove(1)
	_, ok := f.cache.GetFromMemory(1)
	assert.False(t, ok)

	f.flush(t)
	assert.Equal(t, 2, f.store.Len())

	require.NoError(t, f.cache.RemoveSync(context.Background(), 2))
	assert.Equal(t, 1, f.store.Len())

	f.cache.Clear()
	assert.Equal(t, 0, f.cache.Len())
	f.flush(t)
	assert.Equal(t, 0, f.store.Len())

	f.cache.Put(item(4))
	f.flush(t)
	require.NoError(t, f.cache.ClearSync(context.Background()))
	assert.Equal(t, 0, f.store.Len())

	f.env.Settle(t)
	assert.Equal(t, []any{3, 1, 1, 1, 1, 1}, rec.Payloads())
	runtime.KeepAlive(sub)
}

func TestCache_InstanceIDsAreUnique(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	assert.NotEqual(t, a.cache.ID(), b.cache.ID())
}

func TestCache_CloseDropsLaterWork(t *testing.T) {
	f := newFixture(t)
	f.cache.Put(item(1))
	require.NoError(t, f.cache.Close(context.Background()))
	assert.Equal(t, 1, f.store.Len(), "queued work drained on close")

	f.cache.Put(item(2))
	assert.Equal(t, 1, f.store.Len())
	require.NoError(t, f.cache.Close(context.Background()))
}
