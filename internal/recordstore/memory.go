package recordstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
)

var errEntryNotFound = errors.New("entry not found")

type userBucket struct {
	entries map[string]memory.Entry
	events  []memory.CompoundingEvent
}

// memStore is an in-process Store keyed by user_id then entry id, guarded
// by a single RWMutex per spec.md 4.2's "safe under concurrent use"
// requirement, grounded on the teacher's memChatStore locking style.
type memStore struct {
	mu      sync.RWMutex
	buckets map[string]*userBucket
}

// NewMemory returns an in-process Store suitable for tests and for
// deployments without Postgres configured.
func NewMemory() Store {
	return &memStore{buckets: make(map[string]*userBucket)}
}

func (s *memStore) bucket(userID string) *userBucket {
	b, ok := s.buckets[userID]
	if !ok {
		b = &userBucket{entries: make(map[string]memory.Entry)}
		s.buckets[userID] = b
	}
	return b
}

func cloneEntry(e memory.Entry) memory.Entry {
	cp := e
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	cp.SourceMetadata = cloneStringMap(e.SourceMetadata)
	cp.RelatedEntries = append([]string(nil), e.RelatedEntries...)
	cp.Tags = append([]string(nil), e.Tags...)
	return cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func (s *memStore) UpsertEntry(_ context.Context, e memory.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(e.UserID)
	b.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *memStore) GetEntry(_ context.Context, userID, id string) (memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[userID]
	if !ok {
		return memory.Entry{}, memerr.NotFound("recordstore.GetEntry", errEntryNotFound)
	}
	e, ok := b.entries[id]
	if !ok {
		return memory.Entry{}, memerr.NotFound("recordstore.GetEntry", errEntryNotFound)
	}
	return cloneEntry(e), nil
}

func sortValue(e memory.Entry, key SortKey) time.Time {
	switch key {
	case SortLastAccessedAt:
		if e.LastAccessedAt != nil {
			return *e.LastAccessedAt
		}
		return time.Time{}
	case SortRelevanceDecay:
		// decay isn't a time; callers sorting by decay compare by value below.
		return time.Time{}
	default:
		return e.IndexedAt
	}
}

func (s *memStore) ListEntries(_ context.Context, userID string, filter ListFilter) ([]memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[userID]
	if !ok {
		return []memory.Entry{}, nil
	}
	out := make([]memory.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if filter.ContentType != "" && e.ContentType != filter.ContentType {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	key := filter.SortBy.Normalize()
	sort.Slice(out, func(i, j int) bool {
		if key == SortRelevanceDecay {
			if out[i].RelevanceDecay != out[j].RelevanceDecay {
				return out[i].RelevanceDecay > out[j].RelevanceDecay
			}
			return out[i].ID < out[j].ID
		}
		ti, tj := sortValue(out[i], key), sortValue(out[j], key)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []memory.Entry{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) GetAllEntries(_ context.Context, userID string) ([]memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[userID]
	if !ok {
		return []memory.Entry{}, nil
	}
	out := make([]memory.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeleteEntry(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[userID]
	if !ok {
		return false, nil
	}
	if _, exists := b.entries[id]; !exists {
		return false, nil
	}
	delete(b.entries, id)
	return true, nil
}

func (s *memStore) mutate(userID, id string, fn func(*memory.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[userID]
	if !ok {
		return memerr.NotFound("recordstore.mutate", errEntryNotFound)
	}
	e, ok := b.entries[id]
	if !ok {
		return memerr.NotFound("recordstore.mutate", errEntryNotFound)
	}
	fn(&e)
	b.entries[id] = e
	return nil
}

func (s *memStore) UpdateAccess(_ context.Context, userID, id string, at time.Time, inc int64, resetDecay bool) error {
	return s.mutate(userID, id, func(e *memory.Entry) {
		t := at
		e.LastAccessedAt = &t
		e.AccessCount += inc
		if resetDecay {
			e.RelevanceDecay = memory.DecayInitial
		}
	})
}

func (s *memStore) UpdateRelatedEntries(_ context.Context, userID, id string, related []string) error {
	return s.mutate(userID, id, func(e *memory.Entry) {
		e.RelatedEntries = append([]string(nil), related...)
	})
}

func (s *memStore) UpdateDecay(_ context.Context, userID, id string, value float64) error {
	return s.mutate(userID, id, func(e *memory.Entry) {
		e.RelevanceDecay = value
	})
}

func (s *memStore) UpdateContentFields(_ context.Context, userID, id, title, preview string, tags []string) error {
	return s.mutate(userID, id, func(e *memory.Entry) {
		e.Title = title
		e.ContentPreview = preview
		e.Tags = append([]string(nil), tags...)
	})
}

func (s *memStore) AddCompoundingEvent(_ context.Context, ev memory.CompoundingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(ev.UserID)
	if n := len(b.events); n > 0 && ev.Timestamp.Before(b.events[n-1].Timestamp) {
		ev.Timestamp = b.events[n-1].Timestamp
	}
	b.events = append(b.events, ev)
	return nil
}

func (s *memStore) GetCompoundingEvents(_ context.Context, userID string, limit int) ([]memory.CompoundingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[userID]
	if !ok {
		return []memory.CompoundingEvent{}, nil
	}
	out := make([]memory.CompoundingEvent, len(b.events))
	copy(out, b.events)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Stats(_ context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[userID]
	if !ok {
		return Stats{}, nil
	}
	byType := make(map[memory.ContentType]*TypeStats)
	var stats Stats
	for _, e := range b.entries {
		stats.TotalEntries++
		stats.TotalTokens += int64(e.TokenCount)
		ts, ok := byType[e.ContentType]
		if !ok {
			ts = &TypeStats{ContentType: e.ContentType}
			byType[e.ContentType] = ts
		}
		ts.Count++
		ts.Tokens += int64(e.TokenCount)
		if stats.OldestIndexed == nil || e.IndexedAt.Before(*stats.OldestIndexed) {
			t := e.IndexedAt
			stats.OldestIndexed = &t
		}
		if stats.NewestIndexed == nil || e.IndexedAt.After(*stats.NewestIndexed) {
			t := e.IndexedAt
			stats.NewestIndexed = &t
		}
	}
	for _, ts := range byType {
		stats.ByType = append(stats.ByType, *ts)
	}
	sort.Slice(stats.ByType, func(i, j int) bool { return stats.ByType[i].ContentType < stats.ByType[j].ContentType })
	return stats, nil
}
