package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
)

// handleCreateOverride handles POST /v1/overrides.
func (s *ConfigServer) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req createOverrideRequest
	if err := s.decodeBody(r, &req, false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	rec, err := s.svc.CreateOverride(r.Context(), overrides.CreateInput{
		Context: model.Descriptor{Kind: kind, Identifier: req.Identifier},
		Payload: req.Payload,
		Active:  req.IsActive,
	}, actorOf(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleListOverrides handles GET /v1/overrides?kind=...
func (s *ConfigServer) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "kind query parameter is required")
		return
	}
	kind, err := model.ParseKind(raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	records, err := s.svc.List(r.Context(), kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []*model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleSearchOverrides handles GET /v1/overrides/search.
func (s *ConfigServer) handleSearchOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := searchRequest{
		Kind:       q.Get("kind"),
		Identifier: strings.TrimSpace(q.Get("identifier")),
		CreatedBy:  strings.TrimSpace(q.Get("created_by")),
	}
	var err error
	if req.ActiveOnly, err = queryBool(q.Get("active_only")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "active_only must be a boolean")
		return
	}
	if req.Page, err = queryInt(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "page must be an integer")
		return
	}
	if req.Size, err = queryInt(q.Get("size")); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "size must be an integer")
		return
	}
	if err := s.check(&req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	filter := model.RecordFilter{
		Identifier: req.Identifier,
		CreatedBy:  req.CreatedBy,
		ActiveOnly: req.ActiveOnly,
		Page:       req.Page,
		Size:       req.Size,
	}
	if req.Kind != "" {
		filter.Kind, _ = model.ParseKind(req.Kind)
	}

	page, err := s.svc.Search(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if page.Records == nil {
		page.Records = []*model.Record{}
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetOverride handles GET /v1/overrides/{id}.
func (s *ConfigServer) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateOverride handles PATCH /v1/overrides/{id}.
func (s *ConfigServer) handleUpdateOverride(w http.ResponseWriter, r *http.Request) {
	var req updateOverrideRequest
	if err := s.decodeBody(r, &req, false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	mode, err := model.ParseUpdateMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}

	rec, err := s.svc.UpdateOverride(r.Context(), r.PathValue("id"), overrides.UpdateInput{
		Payload: req.Payload,
		Mode:    mode,
		Active:  req.IsActive,
	}, actorOf(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleActivate handles POST /v1/overrides/{id}/activate.
func (s *ConfigServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := s.decodeBody(r, &req, true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	rec, err := s.svc.Activate(r.Context(), r.PathValue("id"), actorOf(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeactivate handles POST /v1/overrides/{id}/deactivate.
func (s *ConfigServer) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := s.decodeBody(r, &req, true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	rec, err := s.svc.Deactivate(r.Context(), r.PathValue("id"), actorOf(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteOverride handles DELETE /v1/overrides/{id}.
func (s *ConfigServer) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id"), actorOf(r, "")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBulk handles POST /v1/overrides/bulk.
func (s *ConfigServer) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := s.decodeBody(r, &req, false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	results, err := s.svc.Bulk(r.Context(), overrides.BulkAction(req.Action), req.IDs, actorOf(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// handleGetGlobal handles GET /v1/contexts/global.
func (s *ConfigServer) handleGetGlobal(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetActive(r.Context(), model.GlobalDescriptor())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetActive handles GET /v1/contexts/{kind}/{identifier}.
func (s *ConfigServer) handleGetActive(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	desc, err := model.NewDescriptor(kind, r.PathValue("identifier"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rec, err := s.svc.GetActive(r.Context(), desc)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// actorOf prefers an explicit actor, then the X-Actor header.
func actorOf(r *http.Request, explicit string) string {
	if a := strings.TrimSpace(explicit); a != "" {
		return a
	}
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "api"
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func queryBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
