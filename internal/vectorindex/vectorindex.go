// Package vectorindex implements the Vector Index component (spec.md 4.1):
// per-user collections of (doc_id -> vector + payload) with cosine
// similarity search, threshold filtering, and a type filter.
package vectorindex

import "context"

// Result is one hit from Search (which returns hits sorted by score
// descending, tie-broken by DocID ascending) or one entry from GetAll.
type Result struct {
	DocID    string
	Score    float64
	Metadata map[string]string
}

// Index is the per-user vector collection abstraction. All operations
// succeed or report "not found"/zero results; no operation panics or
// errors on a collection that hasn't been initialized yet.
type Index interface {
	// Init ensures the per-user collection exists. Idempotent.
	Init(ctx context.Context, userID string) error
	// Upsert replaces any prior tuple for (userID, docID).
	Upsert(ctx context.Context, userID, docID string, vector []float32, metadata map[string]string) error
	// Search returns at most limit results with score >= threshold, sorted
	// by score descending, ties broken by doc_id ascending. typeFilter, if
	// non-empty, restricts to payload["type"] == typeFilter.
	Search(ctx context.Context, userID string, queryVector []float32, limit int, threshold float64, typeFilter string) ([]Result, error)
	// Delete removes the tuple for (userID, docID) and reports whether one existed.
	Delete(ctx context.Context, userID, docID string) (bool, error)
	// GetVector returns the stored vector for (userID, docID), if any.
	GetVector(ctx context.Context, userID, docID string) ([]float32, bool, error)
	// GetAll enumerates every (docID, metadata) pair for userID, for
	// compounding scans; vectors are not included (use GetVector).
	GetAll(ctx context.Context, userID string) ([]Result, error)
}
