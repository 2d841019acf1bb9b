// Package ingestion implements the Ingestion Pipeline (spec.md 4.4): the
// single orchestration path that takes raw content in, indexes it, persists
// it, and kicks off compounding — grounded on the teacher's
// rag/service/service.go Ingest method shape (functional options, a Clock
// for deterministic tests, a single best-effort-vs-all-or-nothing policy
// split between bulk and single mode).
package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/indexer"
	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
)

// MaxBulkEntries bounds ingest_bulk per spec.md section 6.
const MaxBulkEntries = 50

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Request mirrors spec.md 4.4's IngestRequest.
type Request struct {
	ContentType memory.ContentType
	Title       string
	Content     string
	SourceURL   string
	Tags        []string
	Metadata    map[string]string
}

// Result mirrors spec.md 4.4's ingest response shape.
type Result struct {
	EntryID          string
	Indexed          bool
	EmbeddingID      string
	TokenCount       int
	RelatedEntries   []string
	ProcessingTimeMS int64
}

// BulkFailure captures one failed entry in ingest_bulk, per spec.md 4.4:
// "per-entry failure is captured as {index, error} and does not abort the
// batch."
type BulkFailure struct {
	Index int
	Error error
}

// BulkResult is ingest_bulk's return shape: successes preserve input order
// among non-failed entries, failures are reported separately.
type BulkResult struct {
	Successful []Result
	Failed     []BulkFailure
}

// Pipeline is the Ingestion Pipeline: Indexer + Record Store + Compounding
// Engine wired together behind the single ingest/ingest_bulk entry points.
type Pipeline struct {
	indexer     *indexer.Indexer
	store       recordstore.Store
	compounding *compounding.Engine
	clock       Clock
	log         zerolog.Logger
}

// Option configures a Pipeline during construction.
type Option func(*Pipeline)

// WithClock overrides the clock.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New builds a Pipeline from its three required capabilities.
func New(ix *indexer.Indexer, store recordstore.Store, engine *compounding.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		indexer:     ix,
		store:       store,
		compounding: engine,
		clock:       SystemClock{},
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func validate(req Request) error {
	if !req.ContentType.Valid() {
		return memerr.ValidationFailed("ingestion.Ingest", nil)
	}
	if len(req.Title) < memory.MinTitleLen || len(req.Title) > memory.MaxTitleLen {
		return memerr.ValidationFailed("ingestion.Ingest", nil)
	}
	if len(req.Content) == 0 || len(req.Content) > memory.MaxContentLen {
		return memerr.ValidationFailed("ingestion.Ingest", nil)
	}
	return nil
}

// Ingest implements spec.md 4.4's ingest: allocate id, index, persist,
// compound, respond. All-or-nothing: any failing step raises to the caller.
func (p *Pipeline) Ingest(ctx context.Context, userID string, req Request) (Result, error) {
	start := p.clock.Now()
	if err := validate(req); err != nil {
		return Result{}, err
	}

	entryID := uuid.NewString()
	createdAt := p.clock.Now()

	payloadMeta := map[string]string{
		"type":       string(req.ContentType),
		"title":      req.Title,
		"created_at": createdAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range req.Metadata {
		payloadMeta[k] = v
	}

	idxResult, err := p.indexer.IndexTextContent(ctx, userID, entryID, req.Content, payloadMeta)
	if err != nil {
		return Result{}, err
	}

	entry := memory.Entry{
		ID:             entryID,
		UserID:         userID,
		ContentType:    req.ContentType,
		Title:          req.Title,
		ContentPreview: memory.Preview(req.Content),
		Content:        req.Content,
		EmbeddingID:    idxResult.EmbeddingID,
		IndexedAt:      idxResult.IndexedAt,
		RelevanceDecay: memory.DecayInitial,
		SourceURL:      req.SourceURL,
		SourceMetadata: req.Metadata,
		RelatedEntries: nil,
		Tags:           memory.DedupeTags(req.Tags),
		TokenCount:     idxResult.TokenCount,
	}
	if err := p.store.UpsertEntry(ctx, entry); err != nil {
		return Result{}, memerr.StorageUnavailable("ingestion.Ingest", err)
	}

	compResult, err := p.compounding.OnContentAdded(ctx, userID, entryID, req.Content, req.ContentType)
	if err != nil {
		return Result{}, err
	}

	related, err := p.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return Result{}, memerr.StorageUnavailable("ingestion.Ingest", err)
	}

	p.log.Info().Str("user_id", userID).Str("entry_id", entryID).
		Int("new_connections", compResult.NewConnectionsFound).Msg("ingested entry")

	return Result{
		EntryID:          entryID,
		Indexed:          true,
		EmbeddingID:      idxResult.EmbeddingID,
		TokenCount:       idxResult.TokenCount,
		RelatedEntries:   related.RelatedEntries,
		ProcessingTimeMS: p.clock.Now().Sub(start).Milliseconds(),
	}, nil
}

// IngestBulk implements spec.md 4.4's ingest_bulk: sequential, best-effort
// per entry, order-preserving among successes, bounded at MaxBulkEntries.
func (p *Pipeline) IngestBulk(ctx context.Context, userID string, reqs []Request) (BulkResult, error) {
	if len(reqs) > MaxBulkEntries {
		return BulkResult{}, memerr.ValidationFailed("ingestion.IngestBulk", nil)
	}
	var out BulkResult
	for i, req := range reqs {
		res, err := p.Ingest(ctx, userID, req)
		if err != nil {
			out.Failed = append(out.Failed, BulkFailure{Index: i, Error: err})
			continue
		}
		out.Successful = append(out.Successful, res)
	}
	return out, nil
}
