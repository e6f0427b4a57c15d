package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueryOrdersByDistance(t *testing.T) {
	m := NewMemory("funding_test")
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "far", Vector: []float32{0, 1}, Payload: map[string]any{"title": "far"}},
		{ID: "near", Vector: []float32{1, 0.01}, Payload: map[string]any{"title": "near"}},
		{ID: "exact", Vector: []float32{1, 0}, Payload: map[string]any{"title": "exact"}},
	}))

	got, err := m.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].ID)
	assert.Equal(t, "near", got[1].ID)
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
	assert.GreaterOrEqual(t, got[0].Distance, 0.0)
}

func TestMemoryQueryWhereFilter(t *testing.T) {
	m := NewMemory("funding_test")
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"grant_type": "smart"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]any{"grant_type": "loan"}},
	}))

	got, err := m.Query(ctx, []float32{1, 0}, 10, map[string]any{"grant_type": "smart"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestMemoryQueryWhereAnyOf(t *testing.T) {
	m := NewMemory("funding_test")
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"silo": "uk"}},
		{ID: "b", Vector: []float32{1, 0}, Payload: map[string]any{"silo": "eu"}},
		{ID: "c", Vector: []float32{1, 0}, Payload: map[string]any{"silo": "us"}},
	}))

	got, err := m.Query(ctx, []float32{1, 0}, 10, map[string]any{"silo": []string{"uk", "eu"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMemoryScrollKeepsInsertionOrder(t *testing.T) {
	m := NewMemory("funding_test")
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: "first", Vector: []float32{0, 1}, Payload: map[string]any{"n": 1}},
		{ID: "second", Vector: []float32{1, 0}, Payload: map[string]any{"n": 2}},
		{ID: "third", Vector: []float32{1, 1}, Payload: map[string]any{"n": 3}},
	}))

	got, err := m.Scroll(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)

	all, err := m.Scroll(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "non-positive limit reads everything")
	assert.Equal(t, map[string]any{"n": 2}, all[1].Payload)
}

func TestMemoryUpsertReplacesByID(t *testing.T) {
	m := NewMemory("funding_test")
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, []Point{{ID: "x", Vector: []float32{1, 0}, Payload: map[string]any{"v": 1}}}))
	require.NoError(t, m.Upsert(ctx, []Point{{ID: "x", Vector: []float32{0, 1}, Payload: map[string]any{"v": 2}}}))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pts, err := m.Get(ctx, []string{"x", "missing"})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, map[string]any{"v": 2}, pts[0].Payload)
}
