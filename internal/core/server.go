// Package core provides the HTTP chassis for the sweeper ops API. It creates
// a chi router and enforces cross-cutting concerns, security headers,
// logging, panic recovery, and error handling, before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeper/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordAPIRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of domain handler routes onto the router.
// Handlers register themselves via these to avoid an import cycle between
// core and the handler packages.
type RouteRegistrar func(r chi.Router)

// Server bundles the dependencies of the ops API, allowing injection during
// testing and distinct configuration for different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthProbes are checked by GET /healthz. Typically the database pool.
	HealthProbes []HealthProbe

	// AdminRouteRegistrars are mounted under /v1 behind the admin key.
	AdminRouteRegistrars []RouteRegistrar

	// PublicRouteRegistrars are mounted at the root without authentication;
	// used for provider webhooks that carry their own signatures.
	PublicRouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller mounts routes via MountRoutes after populating the
// registrar slices.
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

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
