package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Templates int64  `json:"templates"`
	Delivery  bool   `json:"delivery"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Delivery: s.sender != nil,
	}

	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read template stats", "error", err)
		resp.Status = "degraded"
	} else {
		resp.Templates = stats.Total
	}

	sendJSON(w, http.StatusOK, resp)
}

// decodeJSON decodes the request body into v, writing the error response
// itself when decoding fails
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return false
	}

	sendError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
