package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_GetAndPut(t *testing.T) {
	store := NewInMemoryStore()
	assert.Empty(t, store.Get())

	store.Put(map[string]any{"name": "Ada", "units": "metric"})
	facts := store.Get()
	assert.Equal(t, map[string]any{"name": "Ada", "units": "metric"}, facts)

	facts["name"] = "changed"
	assert.Equal(t, "Ada", store.Get()["name"])

	store.Put(map[string]any{"units": nil})
	assert.Equal(t, map[string]any{"name": "Ada"}, store.Get())
}

func TestInMemoryStore_StoreSearchDelete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	coffee, err := store.Store(ctx, "The user drinks coffee without sugar", map[string]any{"source": "chat"})
	require.NoError(t, err)
	_, err = store.Store(ctx, "The user lives in Oslo", nil)
	require.NoError(t, err)
	_, err = store.Store(ctx, "Coffee machine is broken in Oslo office", nil)
	require.NoError(t, err)

	_, err = store.Store(ctx, "   ", nil)
	assert.Error(t, err)
	assert.Equal(t, 3, store.Len())

	all, err := store.Search(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, coffee, all[0].ID)

	res, err := store.Search(ctx, "coffee in Oslo?", 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "Coffee machine is broken in Oslo office", res[0].Content)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Equal(t, map[string]any{"source": "chat"}, res[2].Metadata)

	limited, err := store.Search(ctx, "oslo", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.Search(ctx, "tea", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.Delete(ctx, coffee))
	assert.ErrorIs(t, store.Delete(ctx, coffee), ErrNotFound)
	assert.Equal(t, 2, store.Len())
}

func TestInMemoryStore_Recall(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		out, err := NewInMemoryStore().Recall(ctx, "anything")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("facts and matches", func(t *testing.T) {
		store := NewInMemoryStore(func(o *Options) { o.RecallLimit = 1 })
		store.Put(map[string]any{"units": "metric", "name": "Ada"})
		_, _ = store.Store(ctx, "Ada prefers short answers", nil)
		_, _ = store.Store(ctx, "Weather questions should mention wind", nil)

		out, err := store.Recall(ctx, "what is the weather?")
		require.NoError(t, err)
		assert.Equal(t, "Relevant memories:\n- name: Ada\n- units: metric\n- Weather questions should mention wind", out)
	})

	t.Run("no header", func(t *testing.T) {
		store := NewInMemoryStore(func(o *Options) { o.Header = "" })
		store.Put(map[string]any{"lang": "de"})
		out, err := store.Recall(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "- lang: de", out)
	})
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Store(ctx, "note about concurrency", nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Search(ctx, "concurrency", 5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, store.Len())
}
