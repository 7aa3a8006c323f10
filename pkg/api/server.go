// Package api exposes the engine over HTTP: time-anchored search, the
// chat fallback, observation intake, on-demand ingestion, health and
// metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifelog-ai/recall/pkg/ingest"
	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/query"
	"github.com/lifelog-ai/recall/pkg/record"
	"github.com/lifelog-ai/recall/pkg/retrieval"
	"github.com/lifelog-ai/recall/pkg/timebucket"
)

// Server routes HTTP requests to the engine. Construct with NewServer and
// mount Handler on an http.Server.
type Server struct {
	orchestrator *retrieval.Orchestrator
	records      record.Store
	pipeline     *ingest.Pipeline
	mux          *http.ServeMux
	now          func() time.Time
}

// NewServer wires the API from its collaborators.
func NewServer(orchestrator *retrieval.Orchestrator, records record.Store, pipeline *ingest.Pipeline) *Server {
	s := &Server{
		orchestrator: orchestrator,
		records:      records,
		pipeline:     pipeline,
		mux:          http.NewServeMux(),
		now:          time.Now,
	}
	s.mux.HandleFunc("POST /v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /v1/observations", s.handleAddObservation)
	s.mux.HandleFunc("POST /v1/ingest/run", s.handleIngestRun)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := s.orchestrator.Search(r.Context(), req.Query, s.now())
	if err != nil {
		if errors.Is(err, query.ErrInvalidDate) || errors.Is(err, query.ErrInvalidTime) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Errorf("api: search failed: %v", err)
		writeError(w, http.StatusBadGateway, "retrieval failed, try again")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := s.orchestrator.Chat(r.Context(), req.Query)
	if err != nil {
		logging.Errorf("api: chat failed: %v", err)
		writeError(w, http.StatusBadGateway, "retrieval failed, try again")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type observationRequest struct {
	Date     string           `json:"date"`
	Time     string           `json:"time"`
	Content  string           `json:"content"`
	Location *record.Location `json:"location,omitempty"`
}

func (s *Server) handleAddObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if _, err := time.Parse(query.DateLayout, req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be DD/MM/YYYY")
		return
	}
	if _, err := timebucket.ParseClock(req.Time); err != nil {
		writeError(w, http.StatusBadRequest, "time must be HH:MM:SS")
		return
	}

	rec := &record.MemoryRecord{
		Date:     req.Date,
		Time:     req.Time,
		Content:  req.Content,
		Location: req.Location,
	}
	if err := s.records.Add(r.Context(), rec); err != nil {
		logging.Errorf("api: failed to store observation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store observation")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Run(r.Context())
	if err != nil {
		logging.Errorf("api: ingestion run failed: %v", err)
		writeError(w, http.StatusInternalServerError, "ingestion run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debugf("api: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
