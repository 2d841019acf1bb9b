// Package compounding implements the Compounding Engine (spec.md 4.5): the
// memory graph's link discovery, decay, duplicate merge, and event
// emission. Grounded on the teacher's agentic_memory.go generateLinks
// (vector-search-for-neighbors) and sefii/engine.go's retry/caching idioms.
package compounding

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

// Clock abstracts time for deterministic tests, grounded on the teacher's
// rag/service.Clock.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DefaultLinkThreshold and DefaultMergeThreshold mirror spec.md 4.5's
// literal defaults for on_content_added / find_new_connections and
// merge_near_duplicates respectively.
const (
	DefaultLinkThreshold  = 0.8
	DefaultMergeThreshold = 0.95
	DefaultDecayAfterDays = 30
	DefaultDecayRate      = 0.95
	linkSearchLimit       = 10
)

// Engine is the Compounding Engine: it owns no storage of its own, only the
// algorithms that evolve the Record Store + Vector Index + Voice Profile
// Store over time.
type Engine struct {
	store recordstore.Store
	index vectorindex.Index
	voice voiceprofile.Store
	cache RelatedCache
	clock Clock
	log   zerolog.Logger
}

// Option configures an Engine during construction.
type Option func(*Engine)

// WithClock overrides the clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithCache overrides the advisory related_entries cache.
func WithCache(c RelatedCache) Option { return func(e *Engine) { e.cache = c } }

// New builds an Engine from its three required capabilities.
func New(store recordstore.Store, index vectorindex.Index, voice voiceprofile.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		index: index,
		voice: voice,
		cache: newMemCache(),
		clock: SystemClock{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnContentAddedResult mirrors spec.md 4.5's on_content_added return shape.
type OnContentAddedResult struct {
	VoiceProfileUpdated bool
	NewConnectionsFound int
	StaleEntriesDecayed int
	ConfidenceDelta     float64
	ProcessingTimeMS    int64
}

// findRelated runs a vector search for entryID's own embedding, excludes
// self, and returns the peer doc_ids above threshold.
func (e *Engine) findRelated(ctx context.Context, userID, entryID string, threshold float64) ([]string, error) {
	vec, ok, err := e.index.GetVector(ctx, userID, entryID)
	if err != nil {
		return nil, memerr.StorageUnavailable("compounding.findRelated", err)
	}
	if !ok {
		return nil, nil
	}
	hits, err := e.index.Search(ctx, userID, vec, linkSearchLimit, threshold, "")
	if err != nil {
		return nil, memerr.StorageUnavailable("compounding.findRelated", err)
	}
	related := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.DocID == entryID {
			continue
		}
		related = append(related, h.DocID)
	}
	return related, nil
}

func stringSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func containsString(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// OnContentAdded implements spec.md 4.5's on_content_added.
func (e *Engine) OnContentAdded(ctx context.Context, userID, entryID, content string, contentType memory.ContentType) (OnContentAddedResult, error) {
	start := e.clock.Now()
	var result OnContentAddedResult

	related, err := e.findRelated(ctx, userID, entryID, DefaultLinkThreshold)
	if err != nil {
		return OnContentAddedResult{}, err
	}
	if err := e.store.UpdateRelatedEntries(ctx, userID, entryID, related); err != nil {
		return OnContentAddedResult{}, memerr.StorageUnavailable("compounding.OnContentAdded", err)
	}
	e.cache.Set(ctx, userID, entryID, related)

	for _, peerID := range related {
		peer, err := e.store.GetEntry(ctx, userID, peerID)
		if err != nil {
			continue // peer vanished between search and symmetry enforcement; tolerate at-least-once semantics
		}
		if containsString(peer.RelatedEntries, entryID) {
			continue
		}
		updated := append(append([]string(nil), peer.RelatedEntries...), entryID)
		if err := e.store.UpdateRelatedEntries(ctx, userID, peerID, updated); err != nil {
			return OnContentAddedResult{}, memerr.StorageUnavailable("compounding.OnContentAdded", err)
		}
		e.cache.Set(ctx, userID, peerID, updated)
	}
	result.NewConnectionsFound = len(related)

	if contentType.VoiceEligible() {
		prev, hadPrev, err := e.voice.GetProfile(ctx, userID)
		if err != nil {
			return OnContentAddedResult{}, memerr.CapabilityFailure("compounding.OnContentAdded", err)
		}
		updated, err := e.voice.UpdateWithContent(ctx, userID, content)
		if err != nil {
			return OnContentAddedResult{}, memerr.CapabilityFailure("compounding.OnContentAdded", err)
		}
		result.VoiceProfileUpdated = true
		if hadPrev {
			result.ConfidenceDelta = updated.Confidence - prev.Confidence
		} else {
			result.ConfidenceDelta = updated.Confidence
		}
	}

	if err := e.store.AddCompoundingEvent(ctx, memory.CompoundingEvent{
		UserID:    userID,
		EventType: memory.EventContentAdded,
		Timestamp: e.clock.Now(),
		Details:   map[string]any{"entry_id": entryID, "new_connections": result.NewConnectionsFound},
	}); err != nil {
		return OnContentAddedResult{}, memerr.StorageUnavailable("compounding.OnContentAdded", err)
	}

	result.ProcessingTimeMS = e.clock.Now().Sub(start).Milliseconds()
	return result, nil
}

// OnContentAccessed implements spec.md 4.5's on_content_accessed.
func (e *Engine) OnContentAccessed(ctx context.Context, userID, entryID string) error {
	now := e.clock.Now()
	if err := e.store.UpdateAccess(ctx, userID, entryID, now, 1, true); err != nil {
		return err
	}
	return e.store.AddCompoundingEvent(ctx, memory.CompoundingEvent{
		UserID:    userID,
		EventType: memory.EventContentAccessed,
		Timestamp: now,
		Details:   map[string]any{"entry_id": entryID},
	})
}

// DecayStaleEntries implements spec.md 4.5's decay_stale_entries.
func (e *Engine) DecayStaleEntries(ctx context.Context, userID string, decayAfterDays int, decayRate float64) (int, error) {
	// decayAfterDays may legitimately be 0 (scenario 2): the cutoff is then
	// now itself, so every entry last touched before now decays. Only
	// decayRate has no sensible non-positive value.
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	entries, err := e.store.GetAllEntries(ctx, userID)
	if err != nil {
		return 0, memerr.StorageUnavailable("compounding.DecayStaleEntries", err)
	}
	now := e.clock.Now()
	cutoff := now.Add(-time.Duration(decayAfterDays) * 24 * time.Hour)

	var decayedCount atomic.Int64
	err = recordstore.ParallelForEach(ctx, entries, recordstore.DefaultWorkerLimit, func(ctx context.Context, ent memory.Entry) error {
		lastTouched := ent.IndexedAt
		if ent.LastAccessedAt != nil && ent.LastAccessedAt.After(lastTouched) {
			lastTouched = *ent.LastAccessedAt
		}
		if !lastTouched.Before(cutoff) {
			return nil
		}
		newDecay := ent.RelevanceDecay * decayRate
		if newDecay < memory.DecayFloor {
			newDecay = memory.DecayFloor
		}
		if err := e.store.UpdateDecay(ctx, userID, ent.ID, newDecay); err != nil {
			return err
		}
		decayedCount.Add(1)
		return nil
	})
	if err != nil {
		return 0, memerr.StorageUnavailable("compounding.DecayStaleEntries", err)
	}
	decayed := int(decayedCount.Load())
	if decayed > 0 {
		if err := e.store.AddCompoundingEvent(ctx, memory.CompoundingEvent{
			UserID:    userID,
			EventType: memory.EventDecay,
			Timestamp: now,
			Details:   map[string]any{"count": decayed},
		}); err != nil {
			return decayed, memerr.StorageUnavailable("compounding.DecayStaleEntries", err)
		}
	}
	return decayed, nil
}

// FindNewConnections implements spec.md 4.5's find_new_connections.
func (e *Engine) FindNewConnections(ctx context.Context, userID string, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = DefaultLinkThreshold
	}
	entries, err := e.store.GetAllEntries(ctx, userID)
	if err != nil {
		return 0, memerr.StorageUnavailable("compounding.FindNewConnections", err)
	}
	newLinks := 0
	for _, ent := range entries {
		related, err := e.findRelated(ctx, userID, ent.ID, threshold)
		if err != nil {
			return 0, err
		}
		before := stringSet(ent.RelatedEntries)
		union := append([]string(nil), ent.RelatedEntries...)
		for _, r := range related {
			if _, ok := before[r]; ok {
				continue
			}
			union = append(union, r)
			newLinks++
		}
		if len(union) == len(ent.RelatedEntries) {
			continue
		}
		if err := e.store.UpdateRelatedEntries(ctx, userID, ent.ID, union); err != nil {
			return 0, memerr.StorageUnavailable("compounding.FindNewConnections", err)
		}
		e.cache.Set(ctx, userID, ent.ID, union)
	}
	if newLinks > 0 {
		if err := e.store.AddCompoundingEvent(ctx, memory.CompoundingEvent{
			UserID:    userID,
			EventType: memory.EventRecluster,
			Timestamp: e.clock.Now(),
			Details:   map[string]any{"new_links": newLinks},
		}); err != nil {
			return newLinks, memerr.StorageUnavailable("compounding.FindNewConnections", err)
		}
	}
	return newLinks, nil
}

// MergePair is one (survivor, removed) outcome of MergeNearDuplicates.
type MergePair struct {
	SurvivorID string
	RemovedID  string
}

// MergeNearDuplicates implements spec.md 4.5's merge_near_duplicates.
func (e *Engine) MergeNearDuplicates(ctx context.Context, userID string, threshold float64) ([]MergePair, error) {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	entries, err := e.store.GetAllEntries(ctx, userID)
	if err != nil {
		return nil, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	seen := make(map[string]struct{})
	var pairs []MergePair
	for _, ent := range entries {
		if _, skip := seen[ent.ID]; skip {
			continue
		}
		hits, err := e.index.Search(ctx, userID, mustVector(ctx, e.index, userID, ent.ID), linkSearchLimit, threshold, "")
		if err != nil {
			return nil, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
		}
		for _, h := range hits {
			if h.DocID == ent.ID {
				continue
			}
			if _, skip := seen[h.DocID]; skip {
				continue
			}
			peer, err := e.store.GetEntry(ctx, userID, h.DocID)
			if err != nil {
				continue // disappeared since the scan began; tolerate at-least-once semantics
			}
			survivor, removed := ent, peer
			if peer.IndexedAt.After(ent.IndexedAt) {
				survivor, removed = peer, ent
			}
			mergedTags := memory.MergeTags(survivor.Tags, removed.Tags)
			if err := e.store.UpdateContentFields(ctx, userID, survivor.ID, survivor.Title, survivor.ContentPreview, mergedTags); err != nil {
				return nil, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
			}
			if _, err := e.store.DeleteEntry(ctx, userID, removed.ID); err != nil {
				return nil, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
			}
			if _, err := e.index.Delete(ctx, userID, removed.ID); err != nil {
				return nil, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
			}
			survivor.Tags = mergedTags
			seen[removed.ID] = struct{}{}
			pairs = append(pairs, MergePair{SurvivorID: survivor.ID, RemovedID: removed.ID})
			if survivor.ID == ent.ID {
				ent = survivor
			}
		}
		seen[ent.ID] = struct{}{}
	}
	if len(pairs) > 0 {
		if err := e.store.AddCompoundingEvent(ctx, memory.CompoundingEvent{
			UserID:    userID,
			EventType: memory.EventMergeDuplicates,
			Timestamp: e.clock.Now(),
			Details:   map[string]any{"merges": len(pairs)},
		}); err != nil {
			return pairs, memerr.StorageUnavailable("compounding.MergeNearDuplicates", err)
		}
	}
	return pairs, nil
}

// mustVector fetches ent's own vector; a missing vector (index/parity drift)
// degrades to an empty search rather than aborting the scan.
func mustVector(ctx context.Context, index vectorindex.Index, userID, docID string) []float32 {
	vec, ok, err := index.GetVector(ctx, userID, docID)
	if err != nil || !ok {
		return nil
	}
	return vec
}

// DuplicateCandidates runs a read-only threshold=0.95 scan identical to
// MergeNearDuplicates' matching logic but never mutates state, populating
// the health report's duplicate_candidates field (see DESIGN.md's decision
// on spec.md's Open Question #4).
func (e *Engine) DuplicateCandidates(ctx context.Context, userID string) ([]MergePair, error) {
	entries, err := e.store.GetAllEntries(ctx, userID)
	if err != nil {
		return nil, memerr.StorageUnavailable("compounding.DuplicateCandidates", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	seen := make(map[string]struct{})
	var pairs []MergePair
	for _, ent := range entries {
		if _, skip := seen[ent.ID]; skip {
			continue
		}
		hits, err := e.index.Search(ctx, userID, mustVector(ctx, e.index, userID, ent.ID), linkSearchLimit, DefaultMergeThreshold, "")
		if err != nil {
			return nil, memerr.StorageUnavailable("compounding.DuplicateCandidates", err)
		}
		for _, h := range hits {
			if h.DocID == ent.ID {
				continue
			}
			if _, skip := seen[h.DocID]; skip {
				continue
			}
			survivorID, removedID := ent.ID, h.DocID
			if peer, err := e.store.GetEntry(ctx, userID, h.DocID); err == nil && peer.IndexedAt.After(ent.IndexedAt) {
				survivorID, removedID = h.DocID, ent.ID
			}
			pairs = append(pairs, MergePair{SurvivorID: survivorID, RemovedID: removedID})
		}
		seen[ent.ID] = struct{}{}
	}
	return pairs, nil
}
