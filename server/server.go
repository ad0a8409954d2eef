// Package server exposes the forwarding pipeline as an HTTP webhook.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/stats"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	processor  *forward.Processor
	collector  *stats.Collector
	logger     *slog.Logger
	startedAt  time.Time
}

func New(cfg config.ServerConfig, processor *forward.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		cfg:       cfg,
		router:    router,
		processor: processor,
		collector: stats.NewCollector(),
		logger:    logger,
		startedAt: time.Now(),
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(gin.Recovery(), RequestID(), RequestLogger(s.logger))

	s.router.GET("/health", s.health)

	v1 := s.router.Group("/v1")
	if s.cfg.WebhookSecret != "" {
		v1.Use(WebhookSecretMiddleware(WebhookSecretConfig{
			HeaderName: SecretHeader,
			Secret:     s.cfg.WebhookSecret,
		}))
	}
	v1.POST("/inbound", s.inbound)
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stats returns the counters since the server started.
func (s *Server) Stats() stats.Summary {
	return s.collector.Snapshot()
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "webhook server")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "webhook server shutdown")
	}
	s.logger.Info("webhook server stopped", append(s.Stats().LogAttrs(), "duration", time.Since(s.startedAt))...)
	return nil
}
