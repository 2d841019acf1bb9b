package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestGetStats_EmptyHasZeroHealthScore(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()
	svc := New(store, nil)

	st, err := svc.GetStats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 0, st.TotalEntries)
	require.Equal(t, 0.0, st.HealthScore)
}

func TestGetStats_HealthScoreFormula(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New(store, nil, WithClock(fixedClock{now}))

	for _, ct := range []memory.ContentType{memory.ContentArticle, memory.ContentDocument} {
		require.NoError(t, store.UpsertEntry(ctx, memory.Entry{
			ID: string(ct), UserID: "u1", ContentType: ct, Title: "t",
			ContentPreview: "p", Content: "c", EmbeddingID: string(ct),
			IndexedAt: now, RelevanceDecay: memory.DecayInitial, TokenCount: 1,
		}))
	}

	st, err := svc.GetStats(ctx, "u1")
	require.NoError(t, err)
	// types=2/5=0.4 -> 0.6*0.4=0.24; newest present -> 0.4*1=0.4; total 0.64*100=64
	require.Equal(t, 64.0, st.HealthScore)
}

func TestGetHealthReport_FlagsStaleAndRecommendations(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()
	idx := vectorindex.NewMemory()
	voice := voiceprofile.NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := compounding.New(store, idx, voice, compounding.WithClock(fixedClock{now}))
	svc := New(store, eng, WithClock(fixedClock{now}))

	require.NoError(t, store.UpsertEntry(ctx, memory.Entry{
		ID: "a", UserID: "u1", ContentType: memory.ContentArticle, Title: "t",
		ContentPreview: "p", Content: "c", EmbeddingID: "a",
		IndexedAt: now.Add(-40 * 24 * time.Hour), RelevanceDecay: memory.DecayInitial, TokenCount: 1,
	}))

	report, err := svc.GetHealthReport(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.StaleEntries)
	require.Contains(t, report.Recommendations, "Ingest more content to improve retrieval quality.")
	require.Contains(t, report.Recommendations, "Diversify content types to improve health score.")
}
