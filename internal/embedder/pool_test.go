package embedder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolLoadsEachModelOnce(t *testing.T) {
	var loads int32
	pool := NewPool(func(model string) (Embedder, error) {
		atomic.AddInt32(&loads, 1)
		return NewHashingEmbedder(32), nil
	}, nil)

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]Embedder, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := pool.Get(ctx, "all-MiniLM-L6-v2")
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "concurrent first requests must share one load")
	for i := 1; i < 16; i++ {
		assert.Same(t, results[0], results[i], "all callers get the shared instance")
	}
}

func TestPoolLoadsDistinctModels(t *testing.T) {
	pool := NewPool(func(model string) (Embedder, error) {
		return NewHashingEmbedder(32), nil
	}, nil)
	ctx := context.Background()

	a, err := pool.Get(ctx, "model-a")
	require.NoError(t, err)
	b, err := pool.Get(ctx, "model-b")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.ElementsMatch(t, []string{"model-a", "model-b"}, pool.Models())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}), "length mismatch yields 0")
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}), "zero vector yields 0")
}

func TestHashingEmbedderIsDeterministicAndTopical(t *testing.T) {
	h := NewHashingEmbedder(64)
	ctx := context.Background()

	a1, err := h.Encode(ctx, "funding for AI startups")
	require.NoError(t, err)
	a2, err := h.Encode(ctx, "funding for AI startups")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := h.Encode(ctx, "grants funding AI research")
	require.NoError(t, err)
	c, err := h.Encode(ctx, "marine biology fieldwork in antarctica")
	require.NoError(t, err)

	assert.Greater(t, Cosine(a1, b), Cosine(a1, c), "overlapping vocabulary scores higher")
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)

	// Touch "a" so "b" becomes least recently used.
	_, ok := lru.Get(ctx, "a")
	require.True(t, ok)

	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok = lru.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = lru.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = lru.Get(ctx, "c")
	assert.True(t, ok)
}
