package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreview_ShorterThanLimit(t *testing.T) {
	require.Equal(t, "hello", Preview("hello"))
}

func TestPreview_ExactlyAtLimit(t *testing.T) {
	content := strings.Repeat("a", MaxPreviewLen)
	require.Equal(t, content, Preview(content))
}

func TestPreview_TruncatesToFiveHundred(t *testing.T) {
	content := strings.Repeat("a", MaxPreviewLen+250)
	preview := Preview(content)
	require.Len(t, []rune(preview), MaxPreviewLen)
	require.True(t, strings.HasPrefix(content, preview))
}

func TestHeuristicTokenCount_FloorsAtOne(t *testing.T) {
	require.Equal(t, 1, HeuristicTokenCount(""))
	require.Equal(t, 1, HeuristicTokenCount("abc"))
	require.Equal(t, 25, HeuristicTokenCount(strings.Repeat("a", 100)))
}

func TestDedupeTags_PreservesFirstSeenOrder(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, DedupeTags([]string{"a", "b", "a", "c", "b"}))
}

func TestMergeTags_UnionIsOrderPreserving(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c", "d"}, MergeTags([]string{"a", "b"}, []string{"b", "c", "d"}))
}

func TestVectorPayload_RoundTrip(t *testing.T) {
	p := VectorPayload{Type: ContentArticle, Title: "Marketing Playbook"}
	p.CreatedAt = p.CreatedAt.UTC()
	md := p.ToMetadata()
	got := PayloadFromMetadata(md)
	require.Equal(t, p.Type, got.Type)
	require.Equal(t, p.Title, got.Title)
}

func TestContentType_VoiceEligible(t *testing.T) {
	require.True(t, ContentArticle.VoiceEligible())
	require.True(t, ContentDocument.VoiceEligible())
	require.True(t, ContentTextSnippet.VoiceEligible())
	require.True(t, ContentNotionPage.VoiceEligible())
	require.False(t, ContentVideo.VoiceEligible())
	require.False(t, ContentLink.VoiceEligible())
}
