// Package api serves the template catalogue, previews and template sends over HTTP
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ultrazend/ultrazend/internal/config"
	"github.com/ultrazend/ultrazend/internal/delivery"
	"github.com/ultrazend/ultrazend/internal/ipfilter"
	"github.com/ultrazend/ultrazend/internal/metrics"
	"github.com/ultrazend/ultrazend/internal/ratelimit"
	"github.com/ultrazend/ultrazend/internal/template"
)

// Version is reported by /health
var Version = "dev"

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	storage    *template.Storage
	engine     *template.Engine
	sender     delivery.Sender    // nil when delivery is disabled
	limiter    *ratelimit.Limiter // nil when rate limiting is disabled
	filter     *ipfilter.Filter
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. sender may be nil, in which case
// template sends answer 503. limiter may be nil to send without quotas.
func NewServer(storage *template.Storage, engine *template.Engine, sender delivery.Sender, limiter *ratelimit.Limiter, cfg *config.APIConfig, logger *slog.Logger) (*Server, error) {
	filter, err := ipfilter.New(cfg.AllowedIPs, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    chi.NewRouter(),
		storage:   storage,
		engine:    engine,
		sender:    sender,
		limiter:   limiter,
		filter:    filter,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)
		r.Use(s.bodyLimitMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Get("/{id}/versions", s.handleTemplateVersions)
			r.Post("/{id}/preview", s.handlePreview)
		})

		r.Post("/variables/extract", s.handleExtract)
		r.Post("/variables/substitute", s.handleSubstitute)

		r.Post("/send/template", s.handleSendTemplate)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
