// Package core provides the API chassis: a chi router with the cross-cutting
// middleware chain (recovery, timeouts, request IDs, security headers,
// logging, CORS, metrics) applied before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pushpoint/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of domain routes onto the v1 router. The
// application entry point populates Server.V1RouteRegistrars with one
// registrar per handler package, avoiding an import cycle between core and
// the handlers.
type RouteRegistrar func(r chi.Router)

// Server bundles the chassis dependencies so tests can inject their own.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	V1RouteRegistrars []RouteRegistrar
	HealthProbes      []HealthProbe

	router *chi.Mux
}

// NewServer initializes the chassis. Routes are mounted separately via
// MountRoutes so tests can customize registration.
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
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-held resources. The HTTP listener itself is
// drained by the caller via http.Server.Shutdown before this runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
