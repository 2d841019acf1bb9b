// Package memory defines the durable data model shared by every core
// component: MemoryEntry, the vector payload mirrored alongside it, the
// append-only compounding event log, and the per-user voice profile.
package memory

import "time"

// ContentType is the closed set of memory kinds the system understands.
type ContentType string

const (
	ContentDocument      ContentType = "document"
	ContentVideo         ContentType = "video"
	ContentAudio         ContentType = "audio"
	ContentLink          ContentType = "link"
	ContentTextSnippet   ContentType = "text_snippet"
	ContentYouTubeVideo  ContentType = "youtube_video"
	ContentInstagramPost ContentType = "instagram_post"
	ContentNotionPage    ContentType = "notion_page"
	ContentArticle       ContentType = "article"
)

// validContentTypes is the closed enum spec.md section 3 declares.
var validContentTypes = map[ContentType]struct{}{
	ContentDocument:      {},
	ContentVideo:         {},
	ContentAudio:         {},
	ContentLink:          {},
	ContentTextSnippet:   {},
	ContentYouTubeVideo:  {},
	ContentInstagramPost: {},
	ContentNotionPage:    {},
	ContentArticle:       {},
}

// Valid reports whether c is one of the declared content types.
func (c ContentType) Valid() bool {
	_, ok := validContentTypes[c]
	return ok
}

// VoiceEligible reports whether content of this type feeds the voice
// profile (document, text_snippet, article, notion_page per 4.5).
func (c ContentType) VoiceEligible() bool {
	switch c {
	case ContentDocument, ContentTextSnippet, ContentArticle, ContentNotionPage:
		return true
	default:
		return false
	}
}

// DecayFloor is the minimum relevance_decay a live entry may hold.
const DecayFloor = 0.1

// DecayInitial is the relevance_decay assigned to a fresh or just-accessed entry.
const DecayInitial = 1.0

// MaxContentLen, MaxPreviewLen, MaxTitleLen bound MemoryEntry fields per spec.md section 3.
const (
	MaxContentLen = 100_000
	MaxPreviewLen = 500
	MinTitleLen   = 1
	MaxTitleLen   = 200
)

// Entry is the durable unit of memory: MemoryEntry in spec.md.
type Entry struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	ContentType     ContentType       `json:"content_type"`
	Title           string            `json:"title"`
	ContentPreview  string            `json:"content_preview"`
	Content         string            `json:"content"`
	EmbeddingID     string            `json:"embedding_id"`
	IndexedAt       time.Time         `json:"indexed_at"`
	LastAccessedAt  *time.Time        `json:"last_accessed_at,omitempty"`
	AccessCount     int64             `json:"access_count"`
	RelevanceDecay  float64           `json:"relevance_decay"`
	SourceURL       string            `json:"source_url,omitempty"`
	SourceMetadata  map[string]string `json:"source_metadata,omitempty"`
	RelatedEntries  []string          `json:"related_entries"`
	Tags            []string          `json:"tags"`
	TokenCount      int               `json:"token_count"`
}

// Preview returns the first min(500, len(content)) characters of content,
// satisfying the preview-prefix invariant (spec.md section 3, invariant 5).
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= MaxPreviewLen {
		return content
	}
	return string(r[:MaxPreviewLen])
}

// HeuristicTokenCount approximates token count as len(text)/4, floored at 1,
// matching the cheap heuristic spec.md explicitly allows (non-goal: no
// authoritative token counting).
func HeuristicTokenCount(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// DedupeTags returns tags with duplicates removed, preserving first-seen order.
func DedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// MergeTags returns the order-preserving union of a and b, a's tags first.
func MergeTags(a, b []string) []string {
	return DedupeTags(append(append([]string{}, a...), b...))
}

// VectorPayload is the closed set of fields mirrored onto the vector index
// so that type-filtered search never needs to join the record store.
type VectorPayload struct {
	Type      ContentType
	Title     string
	CreatedAt time.Time
}

// ToMetadata serializes the payload to the map[string]string wire shape
// the vector index boundary expects (section 9 DESIGN NOTES: typed values
// in memory, serialized only at the store boundary).
func (p VectorPayload) ToMetadata() map[string]string {
	return map[string]string{
		"type":       string(p.Type),
		"title":      p.Title,
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PayloadFromMetadata parses the wire shape back into a typed VectorPayload.
// Unparseable created_at values are left zero rather than erroring: payload
// is a convenience mirror, never the source of truth.
func PayloadFromMetadata(md map[string]string) VectorPayload {
	p := VectorPayload{
		Type:  ContentType(md["type"]),
		Title: md["title"],
	}
	if ts := md["created_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}

// EventType enumerates the compounding event kinds spec.md section 3 names.
type EventType string

const (
	EventContentAdded    EventType = "content_added"
	EventContentAccessed EventType = "content_accessed"
	EventDecay           EventType = "decay"
	EventRecluster       EventType = "recluster"
	EventMergeDuplicates EventType = "merge_duplicates"
)

// CompoundingEvent is one row of the append-only per-user event log.
type CompoundingEvent struct {
	UserID    string         `json:"user_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

// VoiceProfile is the per-user stylistic summary. Descriptive fields beyond
// SampleSize/Confidence are opaque to the core (capability boundary).
type VoiceProfile struct {
	UserID      string         `json:"user_id"`
	SampleSize  int            `json:"sample_size"`
	Confidence  float64        `json:"confidence"`
	ToneKeywords []string      `json:"tone_keywords,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// MaxVoiceConfidence bounds VoiceProfile.Confidence per spec.md section 3.
const MaxVoiceConfidence = 0.95
