// Package httpapi is the thin HTTP edge adapter over the core (spec.md
// section 1 explicitly treats route wiring, CORS, and request shaping as an
// external collaborator; this package is exactly that collaborator).
// Grounded on the teacher's internal/httpapi/server.go: a Server wrapping
// an http.ServeMux, route registration with Go 1.22 method-pattern
// handles, and a respondJSON/respondError pair.
package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/contextbuilder"
	"github.com/Tola-byte/kela/internal/ingestion"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/stats"
	"github.com/Tola-byte/kela/internal/vectorindex"
)

// Server exposes the spec.md section 6 HTTP API over the core components.
type Server struct {
	ingestion   *ingestion.Pipeline
	builder     *contextbuilder.Builder
	store       recordstore.Store
	index       vectorindex.Index
	compounding *compounding.Engine
	stats       *stats.Service
	corsOrigins []string
	log         zerolog.Logger
	mux         *http.ServeMux
}

// New builds a Server wired to the core components, grounded on the
// teacher's NewServer(service) constructor shape generalized to this
// system's multiple cooperating components.
func New(ingest *ingestion.Pipeline, builder *contextbuilder.Builder, store recordstore.Store, index vectorindex.Index, engine *compounding.Engine, statsSvc *stats.Service, corsOrigins []string, log zerolog.Logger) *Server {
	s := &Server{
		ingestion:   ingest,
		builder:     builder,
		store:       store,
		index:       index,
		compounding: engine,
		stats:       statsSvc,
		corsOrigins: corsOrigins,
		log:         log,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, applying CORS before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withCORS(s.mux).ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/memory/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /api/memory/ingest/bulk", s.handleIngestBulk)
	s.mux.HandleFunc("GET /api/memory/entries", s.handleListEntries)
	s.mux.HandleFunc("GET /api/memory/entries/{id}", s.handleGetEntry)
	s.mux.HandleFunc("DELETE /api/memory/entries/{id}", s.handleDeleteEntry)
	s.mux.HandleFunc("GET /api/memory/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/memory/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/memory/compact", s.handleCompact)
	s.mux.HandleFunc("POST /api/context/retrieve", s.handleRetrieveContext)
	s.mux.HandleFunc("POST /api/context/voice", s.handleVoiceContext)
	s.mux.HandleFunc("GET /api/context/suggest", s.handleSuggest)
	s.mux.HandleFunc("POST /api/context/preview", s.handlePreview)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
