package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helicon-ai/helicon/pkg/auth"
	"github.com/helicon-ai/helicon/pkg/ingest"
)

// defaultTopK bounds search results when the caller does not specify.
const defaultTopK = 10

// persistTimeout bounds post-run writes that outlive the request.
const persistTimeout = 10 * time.Second

func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ingestRequest struct {
	Path       string   `json:"path"`
	URL        string   `json:"url"`
	Recursive  bool     `json:"recursive"`
	FromWeb    bool     `json:"from_web"`
	Tags       []string `json:"tags"`
	Collection string   `json:"collection"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target := req.Path
	fromWeb := req.FromWeb
	if target == "" {
		target = req.URL
		fromWeb = true
	}
	if target == "" {
		writeError(w, http.StatusBadRequest, "path or url is required")
		return
	}

	report, err := s.deps.Ingestor.IngestPath(r.Context(), target, ingest.Options{
		Recursive:  req.Recursive,
		FromWeb:    fromWeb,
		Tags:       req.Tags,
		Collection: req.Collection,
		UserID:     auth.UserID(r.Context()),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type searchRequest struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	Collection string   `json:"collection"`
	Tags       []string `json:"tags"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	collection := req.Collection
	if collection == "" {
		collection = s.deps.DefaultCollection
	}

	vector, err := s.deps.Embedder.EmbedText(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embedding the query failed")
		return
	}

	results, err := s.deps.Vectors.Search(r.Context(), vector, req.TopK, collection, auth.UserID(r.Context()), req.Tags)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools":   s.deps.Registry.Tools(),
		"servers": s.deps.Registry.ListServers(),
	})
}

func (s *Server) handleToolRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.RefreshTools(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.handleToolList(w, r)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.History.ListSessions(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	messages, err := s.deps.History.ListMessages(r.Context(), sessionID, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Readiness != nil {
		if err := s.deps.Readiness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
