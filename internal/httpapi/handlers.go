package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/contextbuilder"
	"github.com/Tola-byte/kela/internal/ingestion"
	"github.com/Tola-byte/kela/internal/memerr"
	"github.com/Tola-byte/kela/internal/memory"
	"github.com/Tola-byte/kela/internal/recordstore"
)

// staleRemovalAfter is the 90-day untouched threshold spec.md 4.8 fixes
// for compact(remove_stale).
const staleRemovalAfter = 90 * 24 * time.Hour

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFromError(err), map[string]any{"error": err.Error()})
}

// statusFromError maps the core's memerr taxonomy to HTTP status, per
// spec.md section 7: NotFound->404, ValidationFailed->422,
// StorageUnavailable->503, CapabilityFailure->503 (or partial success,
// handled by the caller before this mapping is reached).
func statusFromError(err error) int {
	switch memerr.KindOf(err) {
	case memerr.KindNotFound:
		return http.StatusNotFound
	case memerr.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case memerr.KindStorageUnavailable, memerr.KindCapabilityFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, memerr.ValidationFailed("httpapi", nil))
		return "", false
	}
	return userID, true
}

type ingestRequestBody struct {
	ContentType memory.ContentType `json:"content_type"`
	Title       string             `json:"title"`
	Content     string             `json:"content"`
	SourceURL   string             `json:"source_url,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

func (b ingestRequestBody) toRequest() ingestion.Request {
	return ingestion.Request{
		ContentType: b.ContentType,
		Title:       b.Title,
		Content:     b.Content,
		SourceURL:   b.SourceURL,
		Tags:        b.Tags,
		Metadata:    b.Metadata,
	}
}

type ingestResponseBody struct {
	EntryID          string   `json:"entry_id"`
	Indexed          bool     `json:"indexed"`
	EmbeddingID      string   `json:"embedding_id"`
	TokenCount       int      `json:"token_count"`
	RelatedEntries   []string `json:"related_entries"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

func toIngestResponse(r ingestion.Result) ingestResponseBody {
	related := r.RelatedEntries
	if related == nil {
		related = []string{}
	}
	return ingestResponseBody{
		EntryID:          r.EntryID,
		Indexed:          r.Indexed,
		EmbeddingID:      r.EmbeddingID,
		TokenCount:       r.TokenCount,
		RelatedEntries:   related,
		ProcessingTimeMS: r.ProcessingTimeMS,
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, memerr.ValidationFailed("httpapi.handleIngest", err))
		return
	}
	result, err := s.ingestion.Ingest(r.Context(), userID, body.toRequest())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toIngestResponse(result))
}

func (s *Server) handleIngestBulk(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var body struct {
		Entries []ingestRequestBody `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, memerr.ValidationFailed("httpapi.handleIngestBulk", err))
		return
	}
	reqs := make([]ingestion.Request, len(body.Entries))
	for i, e := range body.Entries {
		reqs[i] = e.toRequest()
	}
	result, err := s.ingestion.IngestBulk(r.Context(), userID, reqs)
	if err != nil {
		respondError(w, err)
		return
	}
	successful := make([]ingestResponseBody, len(result.Successful))
	for i, r := range result.Successful {
		successful[i] = toIngestResponse(r)
	}
	failed := make([]map[string]any, len(result.Failed))
	for i, f := range result.Failed {
		failed[i] = map[string]any{"index": f.Index, "error": f.Error.Error()}
	}
	respondJSON(w, http.StatusCreated, map[string]any{"successful": successful, "failed": failed})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := recordstore.ListFilter{
		ContentType: memory.ContentType(r.URL.Query().Get("content_type")),
		SortBy:      recordstore.SortKey(r.URL.Query().Get("sort_by")).Normalize(),
		Limit:       limit,
		Offset:      offset,
	}
	entries, err := s.store.ListEntries(r.Context(), userID, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	entry, err := s.store.GetEntry(r.Context(), userID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.compounding.OnContentAccessed(r.Context(), userID, id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	removed, err := s.store.DeleteEntry(r.Context(), userID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	if !removed {
		respondError(w, memerr.NotFound("httpapi.handleDeleteEntry", nil))
		return
	}
	if _, err := s.index.Delete(r.Context(), userID, id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	st, err := s.stats.GetStats(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	report, err := s.stats.GetHealthReport(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var body struct {
		RemoveStale     bool    `json:"remove_stale"`
		MergeDuplicates bool    `json:"merge_duplicates"`
		DecayAfterDays  int     `json:"decay_after_days"`
		DecayRate       float64 `json:"decay_rate"`
		MergeThreshold  float64 `json:"merge_threshold"`
	}
	body.DecayAfterDays = compounding.DefaultDecayAfterDays
	body.DecayRate = compounding.DefaultDecayRate
	body.MergeThreshold = compounding.DefaultMergeThreshold
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, memerr.ValidationFailed("httpapi.handleCompact", err))
			return
		}
	}

	ctx := r.Context()
	decayed, err := s.compounding.DecayStaleEntries(ctx, userID, body.DecayAfterDays, body.DecayRate)
	if err != nil {
		respondError(w, err)
		return
	}

	removed := 0
	if body.RemoveStale {
		removed, err = s.removeStaleEntries(ctx, userID)
		if err != nil {
			respondError(w, err)
			return
		}
	}

	merged := 0
	if body.MergeDuplicates {
		pairs, err := s.compounding.MergeNearDuplicates(ctx, userID, body.MergeThreshold)
		if err != nil {
			respondError(w, err)
			return
		}
		merged = len(pairs)
	}

	newConnections, err := s.compounding.FindNewConnections(ctx, userID, compounding.DefaultLinkThreshold)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"decayed":         decayed,
		"removed":         removed,
		"merged":          merged,
		"new_connections": newConnections,
	})
}

// removeStaleEntries implements spec.md 4.8's compact(remove_stale):
// entries untouched for 90+ days are removed from both Record Store and
// Vector Index.
func (s *Server) removeStaleEntries(ctx context.Context, userID string) (int, error) {
	entries, err := s.store.GetAllEntries(ctx, userID)
	if err != nil {
		return 0, memerr.StorageUnavailable("httpapi.removeStaleEntries", err)
	}
	cutoff := time.Now().UTC().Add(-staleRemovalAfter)
	removed := 0
	for _, e := range entries {
		lastTouched := e.IndexedAt
		if e.LastAccessedAt != nil && e.LastAccessedAt.After(lastTouched) {
			lastTouched = *e.LastAccessedAt
		}
		if !lastTouched.Before(cutoff) {
			continue
		}
		ok, err := s.store.DeleteEntry(ctx, userID, e.ID)
		if err != nil {
			return removed, memerr.StorageUnavailable("httpapi.removeStaleEntries", err)
		}
		if !ok {
			continue
		}
		if _, err := s.index.Delete(ctx, userID, e.ID); err != nil {
			return removed, memerr.StorageUnavailable("httpapi.removeStaleEntries", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Server) handleRetrieveContext(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	req, err := decodeRetrieveRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := s.builder.RetrieveContext(r.Context(), userID, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type retrieveRequestBody struct {
	Query               string   `json:"query"`
	MaxTokens           int      `json:"max_tokens"`
	MaxSources          int      `json:"max_sources"`
	ContentTypes        []string `json:"content_types,omitempty"`
	RecencyDays         int      `json:"recency_days,omitempty"`
	MinRelevance        float64  `json:"min_relevance,omitempty"`
	Format              string   `json:"format,omitempty"`
	IncludeVoiceProfile bool     `json:"include_voice_profile,omitempty"`
}

func decodeRetrieveRequest(r *http.Request) (contextbuilder.Request, error) {
	var body retrieveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return contextbuilder.Request{}, memerr.ValidationFailed("httpapi.decodeRetrieveRequest", err)
	}
	types := make([]memory.ContentType, len(body.ContentTypes))
	for i, t := range body.ContentTypes {
		types[i] = memory.ContentType(t)
	}
	return contextbuilder.Request{
		Query:               body.Query,
		MaxTokens:           body.MaxTokens,
		MaxSources:          body.MaxSources,
		ContentTypes:        types,
		RecencyDays:         body.RecencyDays,
		MinRelevance:        body.MinRelevance,
		Format:              contextbuilder.Format(body.Format),
		IncludeVoiceProfile: body.IncludeVoiceProfile,
	}, nil
}

func (s *Server) handleVoiceContext(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	profile, found, err := s.builder.BuildVoiceContext(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !found {
		respondError(w, memerr.NotFound("httpapi.handleVoiceContext", nil))
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	entryID := r.URL.Query().Get("entry_id")
	if entryID == "" {
		respondError(w, memerr.ValidationFailed("httpapi.handleSuggest", nil))
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}

	ctx := r.Context()
	vec, ok2, err := s.index.GetVector(ctx, userID, entryID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok2 {
		respondError(w, memerr.NotFound("httpapi.handleSuggest", nil))
		return
	}
	const suggestThreshold = 0.5
	hits, err := s.index.Search(ctx, userID, vec, limit+1, suggestThreshold, "")
	if err != nil {
		respondError(w, err)
		return
	}
	sources := make([]memory.Entry, 0, limit)
	for _, h := range hits {
		if h.DocID == entryID {
			continue
		}
		entry, err := s.store.GetEntry(ctx, userID, h.DocID)
		if err != nil {
			continue
		}
		sources = append(sources, entry)
		if len(sources) >= limit {
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	template := r.URL.Query().Get("prompt_template")
	req, err := decodeRetrieveRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := s.builder.RetrieveContext(r.Context(), userID, req)
	if err != nil {
		respondError(w, err)
		return
	}
	finalPrompt := strings.NewReplacer(
		"{{context}}", result.ContextText,
		"{{query}}", req.Query,
	).Replace(template)
	respondJSON(w, http.StatusOK, map[string]any{
		"final_prompt": finalPrompt,
		"token_count":  memory.HeuristicTokenCount(finalPrompt),
		"sources_used": len(result.Sources),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
