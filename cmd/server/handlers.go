package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/logging"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// handleQuery handles POST /api/v1/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	if err := s.validator.Validate(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req fulltext.QueryRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
		return
	}

	result, err := s.engine.Query(r.Context(), &req)
	if err != nil {
		logging.FromContext(r.Context()).Sugar().Infow("query rejected", "schema", req.SchemaName, "error", err)
		writeEngineError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

// handleDescribe handles GET /api/v1/schema/{schema_name}
func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	desc, err := s.engine.Describe(chi.URLParam(r, "schema_name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, desc)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("database unavailable: %v", err))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
