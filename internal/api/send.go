package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/ultrazend/ultrazend/internal/delivery"
	"github.com/ultrazend/ultrazend/internal/email"
	"github.com/ultrazend/ultrazend/internal/ipfilter"
	"github.com/ultrazend/ultrazend/internal/metrics"
	"github.com/ultrazend/ultrazend/internal/ratelimit"
	"github.com/ultrazend/ultrazend/internal/template"
)

// SendTemplateRequest is the request for sending via template
type SendTemplateRequest struct {
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateName string            `json:"template_name,omitempty"`
	From         string            `json:"from"`
	To           []string          `json:"to"`
	CC           []string          `json:"cc,omitempty"`
	BCC          []string          `json:"bcc,omitempty"`
	ReplyTo      string            `json:"reply_to,omitempty"`
	Values       map[string]string `json:"values"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SendResponse is the response for a delivered template message
type SendResponse struct {
	MessageID  string `json:"message_id"`
	TemplateID string `json:"template_id"`
	Version    int    `json:"version"`
	Status     string `json:"status"`
}

// UnresolvedResponse is returned when values don't bind every variable
type UnresolvedResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
}

// handleSendTemplate handles POST /api/v1/send/template
func (s *Server) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	var req SendTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.TemplateID == "" && req.TemplateName == "" {
		sendError(w, http.StatusBadRequest, "template_id or template_name is required")
		return
	}

	var (
		tmpl *template.Template
		err  error
	)
	if req.TemplateID != "" {
		tmpl, err = s.storage.Get(r.Context(), req.TemplateID)
	} else {
		tmpl, err = s.storage.GetByName(r.Context(), req.TemplateName)
	}
	if err != nil {
		s.logger.Error("failed to get template", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}
	if tmpl == nil {
		sendError(w, http.StatusNotFound, "Template not found")
		return
	}

	result := s.engine.Render(tmpl, req.Values)
	if len(result.Missing) > 0 {
		sendJSON(w, http.StatusUnprocessableEntity, UnresolvedResponse{
			Error:   "unresolved template variables",
			Missing: result.Missing,
		})
		return
	}

	env := &delivery.Envelope{
		From:    req.From,
		To:      req.To,
		Cc:      req.CC,
		Bcc:     req.BCC,
		ReplyTo: req.ReplyTo,
		Headers: req.Headers,
	}

	data, err := delivery.BuildMessage(env, result)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.sender == nil {
		sendError(w, http.StatusServiceUnavailable, "Delivery is disabled")
		return
	}

	domain := email.DomainOr(env.From, "unknown")
	if !s.allowSend(w, r, domain) {
		return
	}

	if err := s.sender.Send(r.Context(), env, data); err != nil {
		status, errorType := http.StatusServiceUnavailable, "temporary"
		if !delivery.IsTemporaryError(err) {
			status, errorType = http.StatusBadGateway, "permanent"
		}
		metrics.IncMessagesFailed(domain, errorType)

		s.logger.Warn("template delivery failed",
			"template", tmpl.Name,
			"message_id", env.MessageID,
			"temporary", errorType == "temporary",
			"error", err,
		)

		var de *delivery.DeliveryError
		if errors.As(err, &de) {
			sendError(w, status, de.Error())
		} else {
			sendError(w, status, "Delivery failed")
		}
		return
	}

	metrics.IncMessagesSent(domain)
	s.logger.Info("template message sent",
		"template", tmpl.Name,
		"version", tmpl.Version,
		"message_id", env.MessageID,
		"recipients", len(env.Recipients()),
	)

	sendJSON(w, http.StatusOK, SendResponse{
		MessageID:  env.MessageID,
		TemplateID: tmpl.ID,
		Version:    tmpl.Version,
		Status:     "sent",
	})
}

// allowSend applies the send quotas and writes a 429 when one is exhausted
func (s *Server) allowSend(w http.ResponseWriter, r *http.Request, domain string) bool {
	if s.limiter == nil {
		return true
	}

	req := ratelimit.Request{
		Domain: domain,
		APIKey: keyFingerprint(r.Context()),
	}
	if addr, ok := ipfilter.ClientAddr(r); ok {
		req.IP = addr.String()
	}

	result := s.limiter.Allow(r.Context(), req)
	if result.Allowed {
		return true
	}

	metrics.IncMessagesFailed(domain, "rate_limited")
	s.logger.Warn("send rate limited",
		"level", result.DeniedBy,
		"key", result.DeniedKey,
		"retry_after", result.RetryAfter,
	)

	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
	sendError(w, http.StatusTooManyRequests, "Rate limit exceeded for "+string(result.DeniedBy))
	return false
}
