package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/query"
	"github.com/roadmaptools/roadmap-search/internal/search"
	"github.com/roadmaptools/roadmap-search/internal/storage"
	syncctl "github.com/roadmaptools/roadmap-search/internal/sync"
)

// Server exposes the mirror over a small JSON API: search, checkpoint
// status, and a sync trigger.
type Server struct {
	db             *storage.DB
	engine         *search.Engine
	controller     *syncctl.Controller
	thresholdHours float64
}

// NewServer creates an API server over the given store, engine, and sync
// controller.
func NewServer(db *storage.DB, engine *search.Engine, controller *syncctl.Controller, thresholdHours float64) *Server {
	return &Server{
		db:             db,
		engine:         engine,
		controller:     controller,
		thresholdHours: thresholdHours,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

type searchResponse struct {
	Results  []search.Result  `json:"results"`
	Metadata *search.Metadata `json:"metadata"`
}

type errorResponse struct {
	Errors []query.FieldError `json:"errors"`
}

// handleSearch accepts an arbitrary JSON body. Malformed requests come back
// as a 400 with a field-level error list, never as a 500: bad input is a
// normal outcome. Only engine execution failures are server errors.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var input any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Errors: []query.FieldError{{Field: "request", Message: "request body must be JSON"}},
		})
		return
	}

	q, errs := query.Validate(input)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Errors: errs})
		return
	}

	results, md, err := s.engine.Search(q)
	if err != nil {
		log.Printf("Search failed: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, search.ErrIndexUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("search failed: %v", err), status)
		return
	}

	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Metadata: md})
}

type statusResponse struct {
	Checkpoint *storage.Checkpoint `json:"checkpoint"`
	Freshness  string              `json:"freshness"`
	HoursSince *float64            `json:"hoursSinceLastSync"`
	NextSync   *time.Time          `json:"nextEligibleSync"`
	Stale      bool                `json:"stale"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cp, err := s.db.Checkpoint()
	if err != nil {
		http.Error(w, fmt.Sprintf("read checkpoint: %v", err), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, statusResponse{
		Checkpoint: cp,
		Freshness:  syncctl.Freshness(cp, now),
		HoursSince: syncctl.HoursSince(cp, now),
		NextSync:   syncctl.NextSyncTime(cp, s.thresholdHours),
		Stale:      syncctl.IsStale(cp, s.thresholdHours, now),
	})
}

type syncResponse struct {
	Synced   bool   `json:"synced"`
	Message  string `json:"message"`
	Inserted int    `json:"inserted,omitempty"`
	Updated  int    `json:"updated,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// handleSync triggers a staleness-gated sync. A second trigger while one is
// running gets a 409; a fresh mirror gets a no-op 200.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.controller.SyncIfStale(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, syncResponse{Message: "sync already in progress"})
			return
		}
		// The failure is already recorded in the checkpoint; report it
		// without taking the server down.
		writeJSON(w, http.StatusBadGateway, syncResponse{Message: fmt.Sprintf("sync failed: %v", err)})
		return
	}
	if stats == nil {
		writeJSON(w, http.StatusOK, syncResponse{Message: "mirror is fresh"})
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Synced:   true,
		Message:  "sync complete",
		Inserted: stats.Inserted,
		Updated:  stats.Updated,
		Skipped:  stats.Skipped,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbCount, _ := s.db.Count()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"records_in_db": dbCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
