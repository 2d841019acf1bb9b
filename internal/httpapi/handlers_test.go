package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/contextbuilder"
	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/indexer"
	"github.com/Tola-byte/kela/internal/ingestion"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/stats"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := recordstore.NewMemory()
	idx := vectorindex.NewMemory()
	voice := voiceprofile.NewMemory()
	emb := embedding.NewDeterministic(32)
	ix := indexer.New(emb, idx)
	eng := compounding.New(store, idx, voice)
	pipeline := ingestion.New(ix, store, eng)
	builder := contextbuilder.New(emb, idx, store, voice)
	statsSvc := stats.New(store, eng)
	return New(pipeline, builder, store, idx, eng, statsSvc, []string{"*"}, zerolog.Nop())
}

func TestIngestEndpoint_CreatesEntry(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"content_type": "document",
		"title":        "Marketing Playbook",
		"content":      "This document covers retention, positioning, and storytelling.",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/memory/ingest?user_id=u1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["entry_id"])
}

func TestIngestEndpoint_RequiresUserID(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/memory/ingest", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetEntryEndpoint_404WhenMissing(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/memory/entries/nope?user_id=u1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullFlow_IngestThenRetrieveThenDelete(t *testing.T) {
	srv := newTestServer(t)

	ingestBody, _ := json.Marshal(map[string]any{
		"content_type": "article",
		"title":        "My Article",
		"content":      "some article content body here",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/memory/ingest?user_id=u1", bytes.NewReader(ingestBody))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ingestOut map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingestOut))
	entryID := ingestOut["entry_id"].(string)

	getReq := httptest.NewRequest(http.MethodGet, "/api/memory/entries/"+entryID+"?user_id=u1", nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	retrieveBody, _ := json.Marshal(map[string]any{
		"query": "article content", "max_tokens": 500, "max_sources": 3,
	})
	retReq := httptest.NewRequest(http.MethodPost, "/api/context/retrieve?user_id=u1", bytes.NewReader(retrieveBody))
	retRec := httptest.NewRecorder()
	srv.ServeHTTP(retRec, retReq)
	require.Equal(t, http.StatusOK, retRec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/memory/entries/"+entryID+"?user_id=u1", nil)
	delRec := httptest.NewRecorder()
	srv.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	delAgainReq := httptest.NewRequest(http.MethodDelete, "/api/memory/entries/"+entryID+"?user_id=u1", nil)
	delAgainRec := httptest.NewRecorder()
	srv.ServeHTTP(delAgainRec, delAgainReq)
	require.Equal(t, http.StatusNotFound, delAgainRec.Code)
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS_SetsAllowOriginWhenAllowed(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
