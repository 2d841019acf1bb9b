package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/indexer"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newPipeline(t *testing.T) (*Pipeline, recordstore.Store, vectorindex.Index) {
	t.Helper()
	store := recordstore.NewMemory()
	idx := vectorindex.NewMemory()
	voice := voiceprofile.NewMemory()
	ix := indexer.New(embedding.NewDeterministic(32), idx)
	eng := compounding.New(store, idx, voice)
	p := New(ix, store, eng, WithClock(fixedClock{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}))
	return p, store, idx
}

func TestIngest_PersistsEntryAndTriggersCompounding(t *testing.T) {
	ctx := context.Background()
	p, store, idx := newPipeline(t)

	res, err := p.Ingest(ctx, "u1", Request{
		ContentType: memory.ContentDocument,
		Title:       "Marketing Playbook",
		Content:     "This document covers retention, positioning, and storytelling.",
		Tags:        []string{"marketing"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.EntryID)
	require.True(t, res.Indexed)
	require.Equal(t, res.EmbeddingID, res.EntryID)
	require.Greater(t, res.TokenCount, 0)
	require.Empty(t, res.RelatedEntries)

	entry, err := store.GetEntry(ctx, "u1", res.EntryID)
	require.NoError(t, err)
	require.Equal(t, "Marketing Playbook", entry.Title)
	require.Equal(t, memory.DecayInitial, entry.RelevanceDecay)

	vec, ok, err := idx.GetVector(ctx, "u1", res.EntryID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, vec, 32)

	events, err := store.GetCompoundingEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, memory.EventContentAdded, events[0].EventType)
}

func TestIngest_RejectsInvalidContentType(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t)
	_, err := p.Ingest(ctx, "u1", Request{ContentType: "bogus", Title: "t", Content: "x"})
	require.Error(t, err)
}

func TestIngestBulk_CapturesPerEntryFailureAndPreservesOrder(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t)

	reqs := []Request{
		{ContentType: memory.ContentArticle, Title: "One", Content: "first article body"},
		{ContentType: "bogus", Title: "Bad", Content: "x"},
		{ContentType: memory.ContentArticle, Title: "Two", Content: "second article body"},
	}
	res, err := p.IngestBulk(ctx, "u1", reqs)
	require.NoError(t, err)
	require.Len(t, res.Successful, 2)
	require.Len(t, res.Failed, 1)
	require.Equal(t, 1, res.Failed[0].Index)
}

func TestIngestBulk_RejectsOverMax(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t)
	reqs := make([]Request, MaxBulkEntries+1)
	for i := range reqs {
		reqs[i] = Request{ContentType: memory.ContentArticle, Title: "t", Content: "c"}
	}
	_, err := p.IngestBulk(ctx, "u1", reqs)
	require.Error(t, err)
}
