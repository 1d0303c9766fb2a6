package server

import (
	"net/http"
	"strings"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// handleResolve handles GET /v1/effective/{user_id}?role_id=&org_id=.
func (s *ConfigServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, err := s.svc.Resolve(r.Context(), model.Requester{
		UserID: r.PathValue("user_id"),
		RoleID: q.Get("role_id"),
		OrgID:  q.Get("org_id"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// handleSavePreferences handles POST /v1/users/{user_id}/preferences.
func (s *ConfigServer) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := s.decodeBody(r, &req, false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Without an X-Actor header the user is recorded as the author.
	rec, err := s.svc.SavePreferences(r.Context(), model.Requester{
		UserID: r.PathValue("user_id"),
		RoleID: req.RoleID,
		OrgID:  req.OrgID,
	}, req.preferences(), strings.TrimSpace(r.Header.Get("X-Actor")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleStats handles GET /v1/stats.
func (s *ConfigServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleFlushCache handles POST /v1/cache/flush.
func (s *ConfigServer) handleFlushCache(w http.ResponseWriter, r *http.Request) {
	s.svc.FlushCache(r.Context(), actorOf(r, ""))
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
