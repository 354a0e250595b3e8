// Package app wires configuration, storage and servers into a running service
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ultrazend/ultrazend/internal/api"
	"github.com/ultrazend/ultrazend/internal/config"
	"github.com/ultrazend/ultrazend/internal/delivery"
	"github.com/ultrazend/ultrazend/internal/dkim"
	"github.com/ultrazend/ultrazend/internal/metrics"
	"github.com/ultrazend/ultrazend/internal/ratelimit"
	"github.com/ultrazend/ultrazend/internal/template"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *bolt.DB
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
	logCloser     io.Closer
}

var newLogger = NewLogger

// New creates a new application. On error everything opened so far,
// including the log file, is closed again.
func New(cfg *config.Config) (_ *App, err error) {
	logger, logCloser := newLogger(cfg.Logging)

	a := &App{
		config:    cfg,
		logger:    logger,
		logCloser: logCloser,
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	db, err := template.OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	a.db = db

	storage, err := template.NewStorage(db)
	if err != nil {
		return nil, err
	}

	engine := template.NewEngine(template.PreviewOptions{
		MissingStyle: template.MissingStyle(cfg.Preview.MissingStyle),
		SanitizeHTML: cfg.Preview.SanitizeHTML,
	})

	var sender delivery.Sender
	if cfg.Delivery.Enabled {
		provider, err := dkim.NewProvider(cfg.DKIM, logger.With("component", "dkim"))
		if err != nil {
			return nil, err
		}
		if domains := provider.Domains(); len(domains) > 0 {
			logger.Info("DKIM signing enabled", "domains", domains)
		}

		sender = delivery.NewRelay(cfg.Delivery, provider, logger.With("component", "relay"))
		logger.Info("delivery enabled", "relay", cfg.Delivery.RelayAddr(), "tls_mode", cfg.Delivery.TLSMode)
	} else {
		logger.Info("delivery disabled, template sends will be rejected")
	}

	if cfg.API.APIKey == "" && cfg.API.APIKeyHash == "" {
		logger.Warn("no API key configured, the API is unauthenticated")
	}

	if cfg.RateLimit.Enabled {
		a.limiter, err = ratelimit.New(db, cfg.RateLimit, logger.With("component", "ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("send rate limiting enabled")
	}

	a.apiServer, err = api.NewServer(storage, engine, sender, a.limiter, &cfg.API, logger.With("component", "api"))
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(db, m, storage, cfg.Storage.Path, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}

		a.metricsServer, err = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics server: %w", err)
		}
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	return a, nil
}

// release closes the storage and log file after a failed New
func (a *App) release() {
	if a.config.Metrics.Enabled {
		metrics.SetGlobal(nil)
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// Run starts the servers and blocks until ctx is cancelled, a signal
// arrives or a server fails
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting ultrazend",
		"version", api.Version,
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	if a.limiter != nil {
		a.limiter.Start(ctx)
	}

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		a.collector.Start(ctx)

		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
		metrics.SetGlobal(nil)
	}

	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")

	if a.logCloser != nil {
		return a.logCloser.Close()
	}
	return nil
}
