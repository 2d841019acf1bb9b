package recordstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
)

func sampleEntry(userID, id string, indexedAt time.Time) memory.Entry {
	return memory.Entry{
		ID:             id,
		UserID:         userID,
		ContentType:    memory.ContentArticle,
		Title:          "Title " + id,
		ContentPreview: "preview",
		Content:        "full content",
		EmbeddingID:    id,
		IndexedAt:      indexedAt,
		RelevanceDecay: memory.DecayInitial,
		TokenCount:     3,
	}
}

func TestMemStore_UpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	e := sampleEntry("u1", "e1", time.Now().UTC())
	require.NoError(t, s.UpsertEntry(ctx, e))

	got, err := s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.Equal(t, e.Title, got.Title)

	_, err = s.GetEntry(ctx, "u1", "missing")
	require.True(t, memerr.Is(err, memerr.KindNotFound))

	removed, err := s.DeleteEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.True(t, removed)

	removedAgain, err := s.DeleteEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.False(t, removedAgain)
}

func TestMemStore_IsolatedAcrossUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertEntry(ctx, sampleEntry("u1", "e1", time.Now().UTC())))

	_, err := s.GetEntry(ctx, "u2", "e1")
	require.True(t, memerr.Is(err, memerr.KindNotFound))

	all, err := s.GetAllEntries(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestMemStore_ListEntries_FiltersSortsAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Now().UTC()
	require.NoError(t, s.UpsertEntry(ctx, sampleEntry("u1", "old", base.Add(-time.Hour))))
	require.NoError(t, s.UpsertEntry(ctx, sampleEntry("u1", "new", base)))
	doc := sampleEntry("u1", "doc", base)
	doc.ContentType = memory.ContentDocument
	require.NoError(t, s.UpsertEntry(ctx, doc))

	articles, err := s.ListEntries(ctx, "u1", ListFilter{ContentType: memory.ContentArticle, SortBy: SortIndexedAt})
	require.NoError(t, err)
	require.Len(t, articles, 2)
	require.Equal(t, "new", articles[0].ID) // newest first

	page, err := s.ListEntries(ctx, "u1", ListFilter{SortBy: SortIndexedAt, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestMemStore_UpdateAccess_ResetsDecayAndIncrementsCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	e := sampleEntry("u1", "e1", time.Now().UTC())
	e.RelevanceDecay = 0.2
	require.NoError(t, s.UpsertEntry(ctx, e))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateAccess(ctx, "u1", "e1", now, 1, true))

	got, err := s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.AccessCount)
	require.Equal(t, memory.DecayInitial, got.RelevanceDecay)
	require.NotNil(t, got.LastAccessedAt)

	require.NoError(t, s.UpdateAccess(ctx, "u1", "e1", now, 2, false))
	got, err = s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.AccessCount)
	require.Equal(t, memory.DecayInitial, got.RelevanceDecay) // untouched by reset=false
}

func TestMemStore_UpdateRelatedEntriesAndContentFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertEntry(ctx, sampleEntry("u1", "e1", time.Now().UTC())))

	require.NoError(t, s.UpdateRelatedEntries(ctx, "u1", "e1", []string{"e2", "e3"}))
	got, err := s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.Equal(t, []string{"e2", "e3"}, got.RelatedEntries)

	require.NoError(t, s.UpdateContentFields(ctx, "u1", "e1", "merged title", "merged preview", []string{"x"}))
	got, err = s.GetEntry(ctx, "u1", "e1")
	require.NoError(t, err)
	require.Equal(t, "merged title", got.Title)
	require.Equal(t, []string{"x"}, got.Tags)
}

func TestMemStore_CompoundingEvents_OrderedDescAndMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	t0 := time.Now().UTC()
	require.NoError(t, s.AddCompoundingEvent(ctx, memory.CompoundingEvent{UserID: "u1", EventType: memory.EventContentAdded, Timestamp: t0}))
	require.NoError(t, s.AddCompoundingEvent(ctx, memory.CompoundingEvent{UserID: "u1", EventType: memory.EventContentAccessed, Timestamp: t0.Add(-time.Minute)}))

	events, err := s.GetCompoundingEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.False(t, events[1].Timestamp.Before(events[0].Timestamp.Add(-time.Hour))) // sane bound
	require.True(t, events[1].Timestamp.Equal(t0) || events[1].Timestamp.After(events[0].Timestamp) == false)
}

func TestMemStore_Stats_GroupsByType(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.UpsertEntry(ctx, sampleEntry("u1", "e1", time.Now().UTC())))
	doc := sampleEntry("u1", "e2", time.Now().UTC())
	doc.ContentType = memory.ContentDocument
	doc.TokenCount = 10
	require.NoError(t, s.UpsertEntry(ctx, doc))

	stats, err := s.Stats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalEntries)
	require.Equal(t, int64(13), stats.TotalTokens)
	require.Len(t, stats.ByType, 2)
}

func TestParallelForEach_CollectsFirstError(t *testing.T) {
	ctx := context.Background()
	items := []int{1, 2, 3, 4}
	err := ParallelForEach(ctx, items, 2, func(_ context.Context, n int) error {
		if n == 3 {
			return memerr.StorageUnavailable("test", nil)
		}
		return nil
	})
	require.Error(t, err)
}
