package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ultrazend/ultrazend/internal/metrics"
	"github.com/ultrazend/ultrazend/internal/template"
)

// TemplateCreateRequest is the request for creating a template
type TemplateCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Subject     string `json:"subject"`
	HTML        string `json:"html,omitempty"`
	Text        string `json:"text,omitempty"`
}

// TemplateUpdateRequest is the request for updating a template. Absent
// fields are left unchanged; an empty string clears html or text.
type TemplateUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	HTML        *string `json:"html,omitempty"`
	Text        *string `json:"text,omitempty"`
}

// TemplateResponse is the response for a template
type TemplateResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html,omitempty"`
	Text        string    `json:"text,omitempty"`
	Variables   []string  `json:"variables"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int                 `json:"total"`
}

// VersionListResponse is the response for a template's history
type VersionListResponse struct {
	TemplateID string              `json:"template_id"`
	Versions   []*template.Version `json:"versions"`
}

// PreviewRequest is the request for previewing a template
type PreviewRequest struct {
	Values       map[string]string `json:"values"`
	MissingStyle string            `json:"missing_style,omitempty"` // literal, bracket
	Sanitize     *bool             `json:"sanitize,omitempty"`
}

// PreviewResponse is the response for previewing a template
type PreviewResponse struct {
	Subject   string   `json:"subject"`
	HTML      string   `json:"html,omitempty"`
	Text      string   `json:"text,omitempty"`
	Variables []string `json:"variables"`
	Missing   []string `json:"missing"`
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := template.ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	for param, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
			return
		}
		*dst = n
	}

	templates, total, err := s.storage.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	resp := TemplateListResponse{
		Templates: make([]*TemplateResponse, 0, len(templates)),
		Total:     total,
	}
	for _, tmpl := range templates {
		resp.Templates = append(resp.Templates, templateToResponse(tmpl))
	}

	sendJSON(w, http.StatusOK, resp)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tmpl := &template.Template{
		Name:        req.Name,
		Description: req.Description,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
	}

	if err := s.engine.Validate(tmpl); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.storage.Create(r.Context(), tmpl); err != nil {
		s.sendStorageError(w, err, "Failed to create template")
		return
	}

	metrics.IncTemplateOperation("create")
	s.logger.Info("template created", "id", tmpl.ID, "name", tmpl.Name, "variables", len(tmpl.Variables))

	sendJSON(w, http.StatusCreated, templateToResponse(tmpl))
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	sendJSON(w, http.StatusOK, templateToResponse(tmpl))
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	if req.Name != nil {
		tmpl.Name = *req.Name
	}
	if req.Description != nil {
		tmpl.Description = *req.Description
	}
	if req.Subject != nil {
		tmpl.Subject = *req.Subject
	}
	if req.HTML != nil {
		tmpl.HTML = *req.HTML
	}
	if req.Text != nil {
		tmpl.Text = *req.Text
	}

	if err := s.engine.Validate(tmpl); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.storage.Update(r.Context(), tmpl); err != nil {
		s.sendStorageError(w, err, "Failed to update template")
		return
	}

	metrics.IncTemplateOperation("update")
	s.logger.Info("template updated", "id", tmpl.ID, "version", tmpl.Version)

	sendJSON(w, http.StatusOK, templateToResponse(tmpl))
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	if err := s.storage.Delete(r.Context(), tmpl.ID); err != nil {
		s.logger.Error("failed to delete template", "id", tmpl.ID, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	metrics.IncTemplateOperation("delete")
	s.logger.Info("template deleted", "id", tmpl.ID, "name", tmpl.Name)

	w.WriteHeader(http.StatusNoContent)
}

// handleTemplateVersions handles GET /api/v1/templates/{id}/versions
func (s *Server) handleTemplateVersions(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	versions, err := s.storage.Versions(r.Context(), tmpl.ID)
	if err != nil {
		s.logger.Error("failed to read template versions", "id", tmpl.ID, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get template versions")
		return
	}
	if versions == nil {
		versions = []*template.Version{}
	}

	sendJSON(w, http.StatusOK, VersionListResponse{TemplateID: tmpl.ID, Versions: versions})
}

// handlePreview handles POST /api/v1/templates/{id}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	opts := s.engine.Defaults()
	if req.MissingStyle != "" {
		style, err := template.ParseMissingStyle(req.MissingStyle)
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.MissingStyle = style
	}
	if req.Sanitize != nil {
		opts.SanitizeHTML = *req.Sanitize
	}

	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	result := s.engine.Preview(tmpl, req.Values, &opts)
	metrics.ObservePreview(string(opts.MissingStyle), len(result.Missing))

	sendJSON(w, http.StatusOK, PreviewResponse{
		Subject:   result.Subject,
		HTML:      result.HTML,
		Text:      result.Text,
		Variables: nonNil(tmpl.Variables),
		Missing:   nonNil(result.Missing),
	})
}

// lookupTemplate resolves the {id} parameter as an ID or a name, writing
// the error response itself when the template can't be loaded
func (s *Server) lookupTemplate(w http.ResponseWriter, r *http.Request) (*template.Template, bool) {
	ref := chi.URLParam(r, "id")
	if ref == "" {
		sendError(w, http.StatusBadRequest, "id is required")
		return nil, false
	}

	tmpl, err := s.storage.Lookup(r.Context(), ref)
	if err != nil {
		s.logger.Error("failed to get template", "ref", ref, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	if tmpl == nil {
		sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}

	return tmpl, true
}

func (s *Server) sendStorageError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, template.ErrDuplicateName):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, template.ErrNotFound):
		sendError(w, http.StatusNotFound, "Template not found")
	default:
		s.logger.Error(message, "error", err)
		sendError(w, http.StatusInternalServerError, message)
	}
}

func templateToResponse(tmpl *template.Template) *TemplateResponse {
	return &TemplateResponse{
		ID:          tmpl.ID,
		Name:        tmpl.Name,
		Description: tmpl.Description,
		Subject:     tmpl.Subject,
		HTML:        tmpl.HTML,
		Text:        tmpl.Text,
		Variables:   nonNil(tmpl.Variables),
		Version:     tmpl.Version,
		CreatedAt:   tmpl.CreatedAt,
		UpdatedAt:   tmpl.UpdatedAt,
	}
}

// nonNil keeps empty lists as [] rather than null in responses
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
