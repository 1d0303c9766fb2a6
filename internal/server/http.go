package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When an auth token is configured, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *ConfigServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /v1/effective/{user_id}", s.handleResolve)
	mux.HandleFunc("POST /v1/users/{user_id}/preferences", s.handleSavePreferences)

	mux.HandleFunc("POST /v1/overrides", s.handleCreateOverride)
	mux.HandleFunc("GET /v1/overrides", s.handleListOverrides)
	mux.HandleFunc("GET /v1/overrides/search", s.handleSearchOverrides)
	mux.HandleFunc("POST /v1/overrides/bulk", s.requireAdmin(s.handleBulk))
	mux.HandleFunc("GET /v1/overrides/{id}", s.handleGetOverride)
	mux.HandleFunc("PATCH /v1/overrides/{id}", s.handleUpdateOverride)
	mux.HandleFunc("POST /v1/overrides/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /v1/overrides/{id}/deactivate", s.handleDeactivate)
	mux.HandleFunc("DELETE /v1/overrides/{id}", s.requireAdmin(s.handleDeleteOverride))

	mux.HandleFunc("GET /v1/contexts/global", s.handleGetGlobal)
	mux.HandleFunc("GET /v1/contexts/{kind}/{identifier}", s.handleGetActive)

	if s.hub != nil {
		mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	}

	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/cache/flush", s.requireAdmin(s.handleFlushCache))

	return RecoveryMiddleware(s.instrument(AuthMiddleware(s.authToken, s.adminToken, mux)))
}

// handleHealth handles GET /v1/health.
func (s *ConfigServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
