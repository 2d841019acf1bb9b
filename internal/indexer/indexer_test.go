package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/vectorindex"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestIndexer_IndexTextContent_GeneratesDocIDAndUpserts(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ix := New(embedding.NewDeterministic(32), idx, WithClock(fixedClock{want}))

	res, err := ix.IndexTextContent(ctx, "u1", "", "hello world content", map[string]string{"type": "article"})
	require.NoError(t, err)
	require.NotEmpty(t, res.DocID)
	require.Equal(t, res.DocID, res.EmbeddingID)
	require.Equal(t, want, res.IndexedAt)
	require.Equal(t, 4, res.TokenCount) // len("hello world content")/4

	vec, ok, err := idx.GetVector(ctx, "u1", res.DocID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, vec, 32)
}

func TestIndexer_IndexTextContent_HonorsGivenDocID(t *testing.T) {
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	ix := New(embedding.NewDeterministic(16), idx)

	res, err := ix.IndexTextContent(ctx, "u1", "fixed-id", "some content", nil)
	require.NoError(t, err)
	require.Equal(t, "fixed-id", res.DocID)
}
