package api

import (
	"context"
	"net/http"
	"time"

	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	Addr string
}

// Server wraps the HTTP server with lifecycle management.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures the HTTP server with all routes.
func NewServer(cfg ServerConfig, handler *Handler) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	log := logger.Get().With("component", "http_server")
	log.Infof("HTTP server configured on %s", addr)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: handler.Routes(),
			// Report generation responses can be large; give writes headroom.
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start begins listening for HTTP requests.
// Blocks until the server is stopped or encounters an error.
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server.
// Waits for active connections to complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
