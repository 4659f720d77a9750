// Package core provides the HTTP chassis for the decodr API: the chi router,
// the global middleware chain, error rendering and health checks. Domain
// handlers mount themselves under /api through APIRouteRegistrars, which
// keeps core free of handler imports.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/config"
)

// RouteRegistrar mounts a group of handlers on the /api router.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the cross-cutting dependencies used by the
// middleware chain. Optional fields left nil disable the related middleware.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// MetricsHandler serves GET /metrics when set (Prometheus backend).
	MetricsHandler http.Handler

	APIRouteRegistrars []RouteRegistrar

	// Closers are released in reverse order on Shutdown.
	Closers []func() error

	router *chi.Mux
}

func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root handler. Used by http.Server and the Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	var errs []error
	for i := len(s.Closers) - 1; i >= 0; i-- {
		if err := s.Closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing resource", "error", err)
			errs = append(errs, err)
		}
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return errors.Join(errs...)
}
