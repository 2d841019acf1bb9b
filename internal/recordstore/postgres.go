package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
)

// OpenPool creates a Postgres connection pool using the standard defaults,
// grounded on the teacher's databases.OpenPool.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// NewPostgres returns a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// Init creates the memory_entries and compounding_events tables and their
// indexes with CREATE ... IF NOT EXISTS statements, mirroring the teacher's
// migration style in chat_store_postgres.go. It runs no ALTER TABLE column
// migrations.
func (s *pgStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content_type TEXT NOT NULL,
    title TEXT NOT NULL,
    content_preview TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding_id TEXT NOT NULL,
    indexed_at TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ,
    access_count BIGINT NOT NULL DEFAULT 0,
    relevance_decay DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    source_url TEXT NOT NULL DEFAULT '',
    source_metadata JSONB NOT NULL DEFAULT '{}',
    related_entries JSONB NOT NULL DEFAULT '[]',
    tags JSONB NOT NULL DEFAULT '[]',
    token_count INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS memory_entries_user_type_idx ON memory_entries(user_id, content_type);
CREATE INDEX IF NOT EXISTS memory_entries_indexed_idx ON memory_entries(indexed_at);
CREATE INDEX IF NOT EXISTS memory_entries_user_accessed_idx ON memory_entries(user_id, last_accessed_at DESC);
CREATE INDEX IF NOT EXISTS memory_entries_user_decay_idx ON memory_entries(user_id, relevance_decay DESC);

CREATE TABLE IF NOT EXISTS compounding_events (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    details JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS compounding_events_user_ts_idx ON compounding_events(user_id, ts DESC);
`)
	return err
}

type entryRow struct {
	ID              string
	UserID          string
	ContentType     string
	Title           string
	ContentPreview  string
	Content         string
	EmbeddingID     string
	IndexedAt       time.Time
	LastAccessedAt  *time.Time
	AccessCount     int64
	RelevanceDecay  float64
	SourceURL       string
	SourceMetadata  []byte
	RelatedEntries  []byte
	Tags            []byte
	TokenCount      int
}

func toRow(e memory.Entry) (entryRow, error) {
	md, err := json.Marshal(nonNilStringMap(e.SourceMetadata))
	if err != nil {
		return entryRow{}, fmt.Errorf("recordstore: marshal source_metadata: %w", err)
	}
	related, err := json.Marshal(nonNilStrings(e.RelatedEntries))
	if err != nil {
		return entryRow{}, fmt.Errorf("recordstore: marshal related_entries: %w", err)
	}
	tags, err := json.Marshal(nonNilStrings(e.Tags))
	if err != nil {
		return entryRow{}, fmt.Errorf("recordstore: marshal tags: %w", err)
	}
	return entryRow{
		ID:             e.ID,
		UserID:         e.UserID,
		ContentType:    string(e.ContentType),
		Title:          e.Title,
		ContentPreview: e.ContentPreview,
		Content:        e.Content,
		EmbeddingID:    e.EmbeddingID,
		IndexedAt:      e.IndexedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
		RelevanceDecay: e.RelevanceDecay,
		SourceURL:      e.SourceURL,
		SourceMetadata: md,
		RelatedEntries: related,
		Tags:           tags,
		TokenCount:     e.TokenCount,
	}, nil
}

func nonNilStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func fromRow(r entryRow) (memory.Entry, error) {
	var md map[string]string
	if err := json.Unmarshal(r.SourceMetadata, &md); err != nil {
		return memory.Entry{}, fmt.Errorf("recordstore: unmarshal source_metadata: %w", err)
	}
	var related, tags []string
	if err := json.Unmarshal(r.RelatedEntries, &related); err != nil {
		return memory.Entry{}, fmt.Errorf("recordstore: unmarshal related_entries: %w", err)
	}
	if err := json.Unmarshal(r.Tags, &tags); err != nil {
		return memory.Entry{}, fmt.Errorf("recordstore: unmarshal tags: %w", err)
	}
	return memory.Entry{
		ID:             r.ID,
		UserID:         r.UserID,
		ContentType:    memory.ContentType(r.ContentType),
		Title:          r.Title,
		ContentPreview: r.ContentPreview,
		Content:        r.Content,
		EmbeddingID:    r.EmbeddingID,
		IndexedAt:      r.IndexedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
		RelevanceDecay: r.RelevanceDecay,
		SourceURL:      r.SourceURL,
		SourceMetadata: md,
		RelatedEntries: related,
		Tags:           tags,
		TokenCount:     r.TokenCount,
	}, nil
}

const entryColumns = `id, user_id, content_type, title, content_preview, content, embedding_id,
	indexed_at, last_accessed_at, access_count, relevance_decay, source_url,
	source_metadata, related_entries, tags, token_count`

func scanEntry(row pgx.Row) (memory.Entry, error) {
	var r entryRow
	err := row.Scan(&r.ID, &r.UserID, &r.ContentType, &r.Title, &r.ContentPreview, &r.Content,
		&r.EmbeddingID, &r.IndexedAt, &r.LastAccessedAt, &r.AccessCount, &r.RelevanceDecay,
		&r.SourceURL, &r.SourceMetadata, &r.RelatedEntries, &r.Tags, &r.TokenCount)
	if err != nil {
		return memory.Entry{}, err
	}
	return fromRow(r)
}

func (s *pgStore) UpsertEntry(ctx context.Context, e memory.Entry) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO memory_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    content_type = EXCLUDED.content_type,
    title = EXCLUDED.title,
    content_preview = EXCLUDED.content_preview,
    content = EXCLUDED.content,
    embedding_id = EXCLUDED.embedding_id,
    indexed_at = EXCLUDED.indexed_at,
    last_accessed_at = EXCLUDED.last_accessed_at,
    access_count = EXCLUDED.access_count,
    relevance_decay = EXCLUDED.relevance_decay,
    source_url = EXCLUDED.source_url,
    source_metadata = EXCLUDED.source_metadata,
    related_entries = EXCLUDED.related_entries,
    tags = EXCLUDED.tags,
    token_count = EXCLUDED.token_count`,
		row.ID, row.UserID, row.ContentType, row.Title, row.ContentPreview, row.Content,
		row.EmbeddingID, row.IndexedAt, row.LastAccessedAt, row.AccessCount, row.RelevanceDecay,
		row.SourceURL, row.SourceMetadata, row.RelatedEntries, row.Tags, row.TokenCount)
	return err
}

func (s *pgStore) GetEntry(ctx context.Context, userID, id string) (memory.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE id = $1 AND user_id = $2`, id, userID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memory.Entry{}, memerr.NotFound("recordstore.GetEntry", err)
		}
		return memory.Entry{}, memerr.StorageUnavailable("recordstore.GetEntry", err)
	}
	return e, nil
}

func (s *pgStore) ListEntries(ctx context.Context, userID string, filter ListFilter) ([]memory.Entry, error) {
	orderCol := "indexed_at"
	switch filter.SortBy.Normalize() {
	case SortLastAccessedAt:
		orderCol = "last_accessed_at"
	case SortRelevanceDecay:
		orderCol = "relevance_decay"
	}
	query := `SELECT ` + entryColumns + ` FROM memory_entries WHERE user_id = $1`
	args := []any{userID}
	if filter.ContentType != "" {
		query += fmt.Sprintf(" AND content_type = $%d", len(args)+1)
		args = append(args, string(filter.ContentType))
	}
	query += fmt.Sprintf(" ORDER BY %s DESC NULLS LAST, id ASC", orderCol)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, filter.Offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, memerr.StorageUnavailable("recordstore.ListEntries", err)
	}
	defer rows.Close()
	out := make([]memory.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, memerr.StorageUnavailable("recordstore.ListEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) GetAllEntries(ctx context.Context, userID string) ([]memory.Entry, error) {
	return s.ListEntries(ctx, userID, ListFilter{SortBy: SortIndexedAt})
}

func (s *pgStore) DeleteEntry(ctx context.Context, userID, id string) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, memerr.StorageUnavailable("recordstore.DeleteEntry", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *pgStore) UpdateAccess(ctx context.Context, userID, id string, at time.Time, inc int64, resetDecay bool) error {
	query := `UPDATE memory_entries SET last_accessed_at = $3, access_count = access_count + $4`
	args := []any{id, userID, at, inc}
	if resetDecay {
		query += fmt.Sprintf(", relevance_decay = %f", memory.DecayInitial)
	}
	query += ` WHERE id = $1 AND user_id = $2`
	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return memerr.StorageUnavailable("recordstore.UpdateAccess", err)
	}
	if cmd.RowsAffected() == 0 {
		return memerr.NotFound("recordstore.UpdateAccess", pgx.ErrNoRows)
	}
	return nil
}

func (s *pgStore) UpdateRelatedEntries(ctx context.Context, userID, id string, related []string) error {
	b, err := json.Marshal(nonNilStrings(related))
	if err != nil {
		return fmt.Errorf("recordstore: marshal related_entries: %w", err)
	}
	cmd, err := s.pool.Exec(ctx, `UPDATE memory_entries SET related_entries = $3 WHERE id = $1 AND user_id = $2`, id, userID, b)
	if err != nil {
		return memerr.StorageUnavailable("recordstore.UpdateRelatedEntries", err)
	}
	if cmd.RowsAffected() == 0 {
		return memerr.NotFound("recordstore.UpdateRelatedEntries", pgx.ErrNoRows)
	}
	return nil
}

func (s *pgStore) UpdateDecay(ctx context.Context, userID, id string, value float64) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE memory_entries SET relevance_decay = $3 WHERE id = $1 AND user_id = $2`, id, userID, value)
	if err != nil {
		return memerr.StorageUnavailable("recordstore.UpdateDecay", err)
	}
	if cmd.RowsAffected() == 0 {
		return memerr.NotFound("recordstore.UpdateDecay", pgx.ErrNoRows)
	}
	return nil
}

func (s *pgStore) UpdateContentFields(ctx context.Context, userID, id, title, preview string, tags []string) error {
	b, err := json.Marshal(nonNilStrings(tags))
	if err != nil {
		return fmt.Errorf("recordstore: marshal tags: %w", err)
	}
	cmd, err := s.pool.Exec(ctx, `
UPDATE memory_entries SET title = $3, content_preview = $4, tags = $5
WHERE id = $1 AND user_id = $2`, id, userID, title, preview, b)
	if err != nil {
		return memerr.StorageUnavailable("recordstore.UpdateContentFields", err)
	}
	if cmd.RowsAffected() == 0 {
		return memerr.NotFound("recordstore.UpdateContentFields", pgx.ErrNoRows)
	}
	return nil
}

func (s *pgStore) AddCompoundingEvent(ctx context.Context, ev memory.CompoundingEvent) error {
	details, err := json.Marshal(nonNilAnyMap(ev.Details))
	if err != nil {
		return fmt.Errorf("recordstore: marshal event details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO compounding_events (user_id, event_type, ts, details)
VALUES ($1,$2,$3,$4)`, ev.UserID, string(ev.EventType), ev.Timestamp, details)
	if err != nil {
		return memerr.StorageUnavailable("recordstore.AddCompoundingEvent", err)
	}
	return nil
}

func nonNilAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (s *pgStore) GetCompoundingEvents(ctx context.Context, userID string, limit int) ([]memory.CompoundingEvent, error) {
	query := `SELECT user_id, event_type, ts, details FROM compounding_events WHERE user_id = $1 ORDER BY ts DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, memerr.StorageUnavailable("recordstore.GetCompoundingEvents", err)
	}
	defer rows.Close()
	out := make([]memory.CompoundingEvent, 0)
	for rows.Next() {
		var ev memory.CompoundingEvent
		var eventType string
		var details []byte
		if err := rows.Scan(&ev.UserID, &eventType, &ev.Timestamp, &details); err != nil {
			return nil, memerr.StorageUnavailable("recordstore.GetCompoundingEvents", err)
		}
		ev.EventType = memory.EventType(eventType)
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return nil, memerr.StorageUnavailable("recordstore.GetCompoundingEvents", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *pgStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var stats Stats
	row := s.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(token_count), 0), MIN(indexed_at), MAX(indexed_at)
FROM memory_entries WHERE user_id = $1`, userID)
	var total int64
	var totalTokens int64
	if err := row.Scan(&total, &totalTokens, &stats.OldestIndexed, &stats.NewestIndexed); err != nil {
		return Stats{}, memerr.StorageUnavailable("recordstore.Stats", err)
	}
	stats.TotalEntries = int(total)
	stats.TotalTokens = totalTokens

	rows, err := s.pool.Query(ctx, `
SELECT content_type, COUNT(*), COALESCE(SUM(token_count), 0)
FROM memory_entries WHERE user_id = $1
GROUP BY content_type ORDER BY content_type`, userID)
	if err != nil {
		return Stats{}, memerr.StorageUnavailable("recordstore.Stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ts TypeStats
		var contentType string
		if err := rows.Scan(&contentType, &ts.Count, &ts.Tokens); err != nil {
			return Stats{}, memerr.StorageUnavailable("recordstore.Stats", err)
		}
		ts.ContentType = memory.ContentType(contentType)
		stats.ByType = append(stats.ByType, ts)
	}
	return stats, rows.Err()
}
