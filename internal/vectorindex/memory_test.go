package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, "u1"))

	require.NoError(t, idx.Upsert(ctx, "u1", "a", []float32{1, 0, 0}, map[string]string{"type": "document"}))
	require.NoError(t, idx.Upsert(ctx, "u1", "b", []float32{0, 1, 0}, map[string]string{"type": "article"}))

	results, err := idx.Search(ctx, "u1", []float32{1, 0, 0}, 10, 0.0, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].DocID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)

	filtered, err := idx.Search(ctx, "u1", []float32{1, 0, 0}, 10, 0.0, "article")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "b", filtered[0].DocID)

	removed, err := idx.Delete(ctx, "u1", "a")
	require.NoError(t, err)
	require.True(t, removed)

	removedAgain, err := idx.Delete(ctx, "u1", "a")
	require.NoError(t, err)
	require.False(t, removedAgain)
}

func TestMemoryIndex_ThresholdFiltersLowScores(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "u1", "ortho", []float32{0, 1}, nil))
	results, err := idx.Search(ctx, "u1", []float32{1, 0}, 10, 0.5, "")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMemoryIndex_TieBreakByDocIDAscending(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "u1", "z", []float32{1, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "u1", "a", []float32{1, 0}, nil))
	results, err := idx.Search(ctx, "u1", []float32{1, 0}, 10, 0, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "z"}, []string{results[0].DocID, results[1].DocID})
}

func TestMemoryIndex_UnequalLengthScoresZero(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "u1", "short", []float32{1}, nil))
	results, err := idx.Search(ctx, "u1", []float32{1, 0, 0}, 10, -1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0.0, results[0].Score)
}

func TestMemoryIndex_IsolatedAcrossUsers(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "u1", "doc", []float32{1, 0}, nil))
	results, err := idx.Search(ctx, "u2", []float32{1, 0}, 10, -1, "")
	require.NoError(t, err)
	require.Empty(t, results)

	all, err := idx.GetAll(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, all)
}
