// Package stats implements Stats & Health (spec.md 4.7): an aggregate view
// over the Record Store plus a health score and human-readable
// recommendations, grounded on the teacher's observability summary
// patterns (aggregate-then-format, no new storage of its own).
package stats

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
)

// maxHealthTypes is the type-diversity denominator spec.md 4.7's health
// score formula fixes at 5.
const maxHealthTypes = 5

// staleAfter is the "not accessed in 30 days" window spec.md 4.7 and 4.8 fix.
const staleAfter = 30 * 24 * time.Hour

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// TypeCount is one row of Stats.ByType.
type TypeCount struct {
	ContentType memory.ContentType
	Count       int
	Tokens      int64
}

// Stats mirrors spec.md 4.7's get_stats return shape (MemoryStats).
type Stats struct {
	TotalEntries  int
	TotalTokens   int64
	ByType        []TypeCount
	OldestIndexed *time.Time
	NewestIndexed *time.Time
	HealthScore   float64
}

// HealthReport mirrors spec.md 4.7's get_health_report return shape
// (MemoryHealthReport): Stats plus stale-entry count, duplicate
// candidates, and recommendations.
type HealthReport struct {
	Stats               Stats
	StaleEntries        int
	DuplicateCandidates []compounding.MergePair
	Recommendations     []string
}

// Service computes Stats & Health from the Record Store (and, for
// duplicate candidates, the Compounding Engine's read-only scan).
type Service struct {
	store       recordstore.Store
	compounding *compounding.Engine
	clock       Clock
	log         zerolog.Logger
}

// Option configures a Service during construction.
type Option func(*Service)

// WithClock overrides the clock.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// New builds a Service from its required capabilities.
func New(store recordstore.Store, engine *compounding.Engine, opts ...Option) *Service {
	s := &Service{
		store:       store,
		compounding: engine,
		clock:       SystemClock{},
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func healthScore(byType []TypeCount, newest *time.Time) float64 {
	if len(byType) == 0 {
		return 0
	}
	typesTerm := math.Min(float64(len(byType))/float64(maxHealthTypes), 1)
	recencyTerm := 0.5
	if newest != nil {
		recencyTerm = 1
	}
	return round2((0.6*typesTerm + 0.4*recencyTerm) * 100)
}

// GetStats implements spec.md 4.7's get_stats.
func (s *Service) GetStats(ctx context.Context, userID string) (Stats, error) {
	raw, err := s.store.Stats(ctx, userID)
	if err != nil {
		return Stats{}, memerr.StorageUnavailable("stats.GetStats", err)
	}
	byType := make([]TypeCount, 0, len(raw.ByType))
	for _, t := range raw.ByType {
		byType = append(byType, TypeCount{ContentType: t.ContentType, Count: t.Count, Tokens: t.Tokens})
	}
	return Stats{
		TotalEntries:  raw.TotalEntries,
		TotalTokens:   raw.TotalTokens,
		ByType:        byType,
		OldestIndexed: raw.OldestIndexed,
		NewestIndexed: raw.NewestIndexed,
		HealthScore:   healthScore(byType, raw.NewestIndexed),
	}, nil
}

// GetHealthReport implements spec.md 4.7's get_health_report.
func (s *Service) GetHealthReport(ctx context.Context, userID string) (HealthReport, error) {
	st, err := s.GetStats(ctx, userID)
	if err != nil {
		return HealthReport{}, err
	}

	entries, err := s.store.GetAllEntries(ctx, userID)
	if err != nil {
		return HealthReport{}, memerr.StorageUnavailable("stats.GetHealthReport", err)
	}
	now := s.clock.Now()
	cutoff := now.Add(-staleAfter)
	stale := 0
	for _, e := range entries {
		lastTouched := e.IndexedAt
		if e.LastAccessedAt != nil && e.LastAccessedAt.After(lastTouched) {
			lastTouched = *e.LastAccessedAt
		}
		if lastTouched.Before(cutoff) {
			stale++
		}
	}

	var dupes []compounding.MergePair
	if s.compounding != nil {
		dupes, err = s.compounding.DuplicateCandidates(ctx, userID)
		if err != nil {
			return HealthReport{}, err
		}
	}

	recs := recommendationsFor(stale, st.TotalEntries, len(st.ByType))

	return HealthReport{
		Stats:               st,
		StaleEntries:        stale,
		DuplicateCandidates: dupes,
		Recommendations:     recs,
	}, nil
}

func recommendationsFor(stale, total, distinctTypes int) []string {
	var recs []string
	if stale > 5 {
		recs = append(recs, "Run compounding compact to decay or remove stale entries.")
	}
	if total < 5 {
		recs = append(recs, "Ingest more content to improve retrieval quality.")
	}
	if distinctTypes < 2 {
		recs = append(recs, "Diversify content types to improve health score.")
	}
	return recs
}
