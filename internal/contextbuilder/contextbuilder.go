// Package contextbuilder implements the Context Builder (spec.md 4.6):
// query-time retrieval that embeds a query, searches the Vector Index,
// re-ranks by a similarity/recency blend, budgets by token count, and
// formats the result for a downstream prompt consumer. Grounded on the
// teacher's rag/retrieve/fusion.go weighted-combination pattern (there:
// RRF with Alpha/1-Alpha; here: the fixed 0.7*similarity + 0.3*recency) and
// sefii/context_retrieval.go's per-request formatting.
package contextbuilder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

// Format selects context_text's rendering, per spec.md 4.6 step 7.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
	FormatXML      Format = "xml"
)

// recencyHalfLife is the 14-day half-life spec.md 4.6 step 4 fixes.
const recencyHalfLife = 14 * 24 * time.Hour

// minSearchLimit is the floor spec.md 4.6 step 2 applies to the raw
// candidate search (max(20, 3*max_sources)).
const minSearchLimit = 20

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Request mirrors spec.md 4.6's retrieve_context request shape.
type Request struct {
	Query               string
	MaxTokens           int
	MaxSources          int
	ContentTypes        []memory.ContentType // empty means "any"
	RecencyDays         int                   // 0 means "no recency filter"
	MinRelevance        float64
	Format              Format
	IncludeVoiceProfile bool
}

// Source is one excerpt in the retrieved context.
type Source struct {
	EntryID        string
	Title          string
	Excerpt        string
	ContentType    memory.ContentType
	RelevanceScore float64
	TokenCount     int
}

// RetrievedContext mirrors spec.md 4.6's return shape.
type RetrievedContext struct {
	ContextText       string
	Sources           []Source
	SourcesConsidered int
	SourcesIncluded   int
	VoiceSummary      string
	RetrievalTimeMS   int64
}

// Builder is the Context Builder: Embedding Provider + Vector Index +
// Record Store + Voice Profile Store, combined at query time.
type Builder struct {
	embedder embedding.Provider
	index    vectorindex.Index
	store    recordstore.Store
	voice    voiceprofile.Store
	clock    Clock
	log      zerolog.Logger
}

// Option configures a Builder during construction.
type Option func(*Builder)

// WithClock overrides the clock.
func WithClock(c Clock) Option { return func(b *Builder) { b.clock = c } }

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option { return func(b *Builder) { b.log = l } }

// New builds a Builder from its four required capabilities.
func New(embedder embedding.Provider, index vectorindex.Index, store recordstore.Store, voice voiceprofile.Store, opts ...Option) *Builder {
	b := &Builder{
		embedder: embedder,
		index:    index,
		store:    store,
		voice:    voice,
		clock:    SystemClock{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type scored struct {
	entry      memory.Entry
	similarity float64
	combined   float64
}

func recencyOf(now, indexedAt time.Time) float64 {
	delta := now.Sub(indexedAt)
	if delta < 0 {
		delta = 0
	}
	return math.Pow(0.5, float64(delta)/float64(recencyHalfLife))
}

func excerptOf(e memory.Entry) string {
	if e.ContentPreview != "" {
		return e.ContentPreview
	}
	return memory.Preview(e.Content)
}

func typeAllowed(types []memory.ContentType, t memory.ContentType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// RetrieveContext implements spec.md 4.6's retrieve_context end to end.
func (b *Builder) RetrieveContext(ctx context.Context, userID string, req Request) (RetrievedContext, error) {
	start := b.clock.Now()
	maxSources := req.MaxSources
	if maxSources <= 0 {
		maxSources = 3
	}
	searchLimit := maxSources * 3
	if searchLimit < minSearchLimit {
		searchLimit = minSearchLimit
	}

	vecs, err := b.embedder.Embed(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		return RetrievedContext{}, memerr.CapabilityFailure("contextbuilder.RetrieveContext", err)
	}

	hits, err := b.index.Search(ctx, userID, vecs[0], searchLimit, req.MinRelevance, "")
	if err != nil {
		return RetrievedContext{}, memerr.StorageUnavailable("contextbuilder.RetrieveContext", err)
	}

	now := b.clock.Now()
	sourcesConsidered := len(hits)

	var cutoff time.Time
	if req.RecencyDays > 0 {
		cutoff = now.Add(-time.Duration(req.RecencyDays) * 24 * time.Hour)
	}

	candidates := make([]scored, 0, len(hits))
	for _, h := range hits {
		entry, err := b.store.GetEntry(ctx, userID, h.DocID)
		if err != nil {
			continue // backing entry missing: index/store drift, skip per step 3
		}
		if !typeAllowed(req.ContentTypes, entry.ContentType) {
			continue
		}
		if !cutoff.IsZero() && entry.IndexedAt.Before(cutoff) {
			continue
		}
		recency := recencyOf(now, entry.IndexedAt)
		combined := 0.7*h.Score + 0.3*recency
		candidates = append(candidates, scored{entry: entry, similarity: h.Score, combined: combined})
	}

	usingFallback := len(hits) == 0
	if usingFallback {
		candidates, err = b.emptyFallbackCandidates(ctx, userID, now, maxSources)
		if err != nil {
			return RetrievedContext{}, err
		}
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].combined != candidates[j].combined {
				return candidates[i].combined > candidates[j].combined
			}
			return candidates[i].entry.ID < candidates[j].entry.ID
		})
	}

	maxTokens := req.MaxTokens
	sources := make([]Source, 0, maxSources)
	tokensUsed := 0
	for _, c := range candidates {
		if len(sources) >= maxSources {
			break
		}
		excerpt := excerptOf(c.entry)
		tokenCount := memory.HeuristicTokenCount(excerpt)
		if maxTokens > 0 && tokensUsed+tokenCount > maxTokens {
			continue // step 5: skip, don't abort
		}
		score := c.combined
		if usingFallback {
			score = recencyOf(now, c.entry.IndexedAt)
		}
		sources = append(sources, Source{
			EntryID:        c.entry.ID,
			Title:          c.entry.Title,
			Excerpt:        excerpt,
			ContentType:    c.entry.ContentType,
			RelevanceScore: score,
			TokenCount:     tokenCount,
		})
		tokensUsed += tokenCount
	}

	format := req.Format
	if format == "" {
		format = FormatMarkdown
	}
	contextText := formatSources(sources, format)

	result := RetrievedContext{
		ContextText:       contextText,
		Sources:           sources,
		SourcesConsidered: sourcesConsidered,
		SourcesIncluded:   len(sources),
	}

	if req.IncludeVoiceProfile {
		if profile, ok, err := b.voice.GetProfile(ctx, userID); err == nil && ok {
			result.VoiceSummary = voiceSummary(profile)
		}
	}

	result.RetrievalTimeMS = b.clock.Now().Sub(start).Milliseconds()
	return result, nil
}

// emptyFallbackCandidates implements spec.md 4.6 step 6: when the vector
// search yields nothing, fall back to the most recent entries of any type,
// ignoring the content_types and recency_days filters (REDESIGN FLAGS notes
// this is preserved source behavior, not a bug).
func (b *Builder) emptyFallbackCandidates(ctx context.Context, userID string, now time.Time, maxSources int) ([]scored, error) {
	entries, err := b.store.ListEntries(ctx, userID, recordstore.ListFilter{
		SortBy: recordstore.SortIndexedAt,
		Limit:  maxSources,
	})
	if err != nil {
		return nil, memerr.StorageUnavailable("contextbuilder.emptyFallbackCandidates", err)
	}
	out := make([]scored, 0, len(entries))
	for _, e := range entries {
		out = append(out, scored{entry: e, similarity: 0, combined: recencyOf(now, e.IndexedAt)})
	}
	return out, nil
}

func formatSources(sources []Source, format Format) string {
	switch format {
	case FormatPlain:
		parts := make([]string, len(sources))
		for i, s := range sources {
			parts[i] = fmt.Sprintf("[%d] %s — %s", i+1, s.Title, s.Excerpt)
		}
		return strings.Join(parts, "\n\n")
	case FormatXML:
		var sb strings.Builder
		sb.WriteString("<context>")
		for _, s := range sources {
			sb.WriteString(fmt.Sprintf("<source id=%q type=%q><title>%s</title><excerpt>%s</excerpt></source>",
				s.EntryID, s.ContentType, escapeXML(s.Title), escapeXML(s.Excerpt)))
		}
		sb.WriteString("</context>")
		return sb.String()
	default: // FormatMarkdown
		parts := make([]string, len(sources))
		for i, s := range sources {
			parts[i] = fmt.Sprintf("### %s\n%s", s.Title, s.Excerpt)
		}
		return strings.Join(parts, "\n\n")
	}
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

func voiceSummary(p memory.VoiceProfile) string {
	keywords := p.ToneKeywords
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return fmt.Sprintf("Tone: %s. Confidence: %.2f", strings.Join(keywords, ", "), p.Confidence)
}

// BuildVoiceContext implements spec.md 4.6's build_voice_context: a
// synthesized view of the voice profile, or found=false when absent.
func (b *Builder) BuildVoiceContext(ctx context.Context, userID string) (memory.VoiceProfile, bool, error) {
	profile, ok, err := b.voice.GetProfile(ctx, userID)
	if err != nil {
		return memory.VoiceProfile{}, false, memerr.CapabilityFailure("contextbuilder.BuildVoiceContext", err)
	}
	return profile, ok, nil
}
