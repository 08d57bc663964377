package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/proposal-pulse/internal/auth"
	"github.com/ignite/proposal-pulse/internal/config"
	"github.com/ignite/proposal-pulse/internal/engagement"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
	router  *chi.Mux
}

// NewServer creates the API server. authManager and limiter may be nil when
// auth or Redis are disabled.
func NewServer(
	cfg config.ServerConfig,
	svc *engagement.Service,
	agg *engagement.Aggregator,
	authManager *auth.Manager,
	limiter *RateLimiter,
	allowedOrigins []string,
) *Server {
	handlers := NewHandlers(svc, agg)
	router := SetupRoutes(handlers, authManager, limiter, allowedOrigins)

	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
