// Package recordstore implements the Record Store component (spec.md 4.2):
// durable per-user MemoryEntry storage plus an append-only
// CompoundingEvent log, with the specialized writers the Compounding
// Engine and access paths rely on.
package recordstore

import (
	"context"
	"time"

	"github.com/Tola-byte/kela/internal/memory"
)

// SortKey selects the ordering for ListEntries. Anything else falls back to
// SortIndexedAt, per spec.md 4.2.
type SortKey string

const (
	SortIndexedAt      SortKey = "indexed_at"
	SortLastAccessedAt SortKey = "last_accessed_at"
	SortRelevanceDecay SortKey = "relevance_decay"
)

// Normalize maps an unrecognized sort key to SortIndexedAt.
func (k SortKey) Normalize() SortKey {
	switch k {
	case SortLastAccessedAt, SortRelevanceDecay:
		return k
	default:
		return SortIndexedAt
	}
}

// ListFilter narrows ListEntries to a content type and/or a page.
type ListFilter struct {
	ContentType memory.ContentType // zero value means "all types"
	SortBy      SortKey
	Limit       int // 0 means unbounded
	Offset      int
}

// TypeStats is one row of Stats' per-content-type breakdown.
type TypeStats struct {
	ContentType memory.ContentType
	Count       int
	Tokens      int64
}

// Stats is the aggregate view spec.md 4.2's stats(user_id) returns.
type Stats struct {
	TotalEntries int
	TotalTokens  int64
	ByType       []TypeStats
	OldestIndexed *time.Time
	NewestIndexed *time.Time
}

// Store is the Record Store capability. Every method is scoped by user_id;
// implementations must never observe or mutate another user's rows
// (invariant 1).
type Store interface {
	// UpsertEntry inserts or replaces by (user_id, id).
	UpsertEntry(ctx context.Context, e memory.Entry) error
	// GetEntry returns memerr.NotFound if absent.
	GetEntry(ctx context.Context, userID, id string) (memory.Entry, error)
	// ListEntries returns a typed+paginated view, sorted descending by
	// filter.SortBy.Normalize().
	ListEntries(ctx context.Context, userID string, filter ListFilter) ([]memory.Entry, error)
	// GetAllEntries is an unpaginated full enumeration for maintenance scans.
	GetAllEntries(ctx context.Context, userID string) ([]memory.Entry, error)
	// DeleteEntry returns whether a row was removed.
	DeleteEntry(ctx context.Context, userID, id string) (bool, error)

	UpdateAccess(ctx context.Context, userID, id string, at time.Time, inc int64, resetDecay bool) error
	UpdateRelatedEntries(ctx context.Context, userID, id string, related []string) error
	UpdateDecay(ctx context.Context, userID, id string, value float64) error
	UpdateContentFields(ctx context.Context, userID, id, title, preview string, tags []string) error

	AddCompoundingEvent(ctx context.Context, ev memory.CompoundingEvent) error
	GetCompoundingEvents(ctx context.Context, userID string, limit int) ([]memory.CompoundingEvent, error)

	Stats(ctx context.Context, userID string) (Stats, error)
}
