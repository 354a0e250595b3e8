package api

import (
	"net/http"

	"github.com/ultrazend/ultrazend/internal/variables"
)

// ExtractRequest carries editor content to scan for variables
type ExtractRequest struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// ExtractResponse lists the distinct variable names in first-occurrence order
type ExtractResponse struct {
	Variables []string `json:"variables"`
}

// SubstituteRequest is an ad-hoc substitution
type SubstituteRequest struct {
	Content string            `json:"content"`
	Values  map[string]string `json:"values"`
}

// SubstituteResponse is the substituted content with unresolved names
type SubstituteResponse struct {
	Content string   `json:"content"`
	Missing []string `json:"missing"`
}

// handleExtract handles POST /api/v1/variables/extract
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sendJSON(w, http.StatusOK, ExtractResponse{
		Variables: variables.ExtractAll(req.Subject, req.HTML, req.Text),
	})
}

// handleSubstitute handles POST /api/v1/variables/substitute
func (s *Server) handleSubstitute(w http.ResponseWriter, r *http.Request) {
	var req SubstituteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sendJSON(w, http.StatusOK, SubstituteResponse{
		Content: variables.Substitute(req.Content, req.Values),
		Missing: nonNil(variables.Missing(req.Content, req.Values)),
	})
}
