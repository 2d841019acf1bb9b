// Package indexer implements the Indexer component (spec.md 4.3): it
// combines the Embedding Provider and Vector Index capabilities to turn raw
// content into an indexed vector.
package indexer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/vectorindex"
)

// Clock abstracts time so ingestion/indexing can be tested deterministically,
// grounded on the teacher's rag/service.Clock.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Result is the outcome of index_text_content.
type Result struct {
	DocID       string
	EmbeddingID string
	IndexedAt   time.Time
	TokenCount  int
}

// Indexer combines an embedding.Provider and a vectorindex.Index.
type Indexer struct {
	embedder embedding.Provider
	index    vectorindex.Index
	clock    Clock
	log      zerolog.Logger
}

// Option configures an Indexer during construction.
type Option func(*Indexer)

// WithClock overrides the clock, for deterministic tests.
func WithClock(c Clock) Option { return func(i *Indexer) { i.clock = c } }

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option { return func(i *Indexer) { i.log = l } }

// New builds an Indexer from its two required capabilities.
func New(embedder embedding.Provider, index vectorindex.Index, opts ...Option) *Indexer {
	i := &Indexer{
		embedder: embedder,
		index:    index,
		clock:    SystemClock{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IndexTextContent embeds content and upserts it into the Vector Index,
// generating docID if absent. metadata becomes the payload verbatim.
func (i *Indexer) IndexTextContent(ctx context.Context, userID, docID, content string, metadata map[string]string) (Result, error) {
	if docID == "" {
		docID = uuid.NewString()
	}
	if err := i.index.Init(ctx, userID); err != nil {
		return Result{}, memerr.StorageUnavailable("indexer.IndexTextContent", err)
	}
	vecs, err := i.embedder.Embed(ctx, []string{content})
	if err != nil {
		return Result{}, memerr.CapabilityFailure("indexer.IndexTextContent", err)
	}
	if len(vecs) == 0 {
		return Result{}, memerr.CapabilityFailure("indexer.IndexTextContent", nil)
	}
	if err := i.index.Upsert(ctx, userID, docID, vecs[0], metadata); err != nil {
		return Result{}, memerr.StorageUnavailable("indexer.IndexTextContent", err)
	}
	now := i.clock.Now()
	i.log.Debug().Str("user_id", userID).Str("doc_id", docID).Msg("indexed content")
	return Result{
		DocID:       docID,
		EmbeddingID: docID,
		IndexedAt:   now,
		TokenCount:  memory.HeuristicTokenCount(content),
	}, nil
}
