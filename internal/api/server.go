// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/warden are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/warden/internal/access/guard"
	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/access/twofactor"
	"github.com/taibuivan/warden/internal/platform/config"
	"github.com/taibuivan/warden/internal/platform/constants"
	"github.com/taibuivan/warden/internal/platform/metrics"
	"github.com/taibuivan/warden/internal/platform/middleware"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
type Handlers struct {
	// Liveness is the /health handler, always 200 while the process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler, 200 only when all deps are healthy.
	Readiness http.HandlerFunc

	// Permission serves resolution, checks and the catalogue.
	Permission *permission.Handler

	// Policy serves organisation settings and IP rules (admin).
	Policy *policy.Handler

	// Guard serves sessions, content decisions and device administration.
	Guard *guard.Handler

	// TwoFactor serves self-service enrollment. Optional.
	TwoFactor *twofactor.Handler
}

// Dependencies are the cross-cutting collaborators of the router.
type Dependencies struct {
	Verifier middleware.TokenVerifier
	Resolver middleware.PermissionResolver
	Metrics  *metrics.Metrics
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(context context.Context, cfg *config.Config, log *slog.Logger, deps Dependencies, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.ClientIP(cfg.TrustProxyHeaders))
	r.Use(middleware.StructuredLogger(log))
	r.Use(deps.Metrics.Instrument)
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.RateLimit(context, cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.Authenticate(deps.Verifier))
	r.Use(middleware.CORS(cfg))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated probes for container orchestration and scraping.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Handle("/metrics", deps.Metrics.Handler())

	// # Application API
	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(authed chi.Router) {
			authed.Use(middleware.RequireAuth)

			authed.Route("/permissions", h.Permission.RegisterRoutes)
			authed.Route("/sessions", h.Guard.RegisterSessionRoutes)
			authed.Route("/content", h.Guard.RegisterContentRoutes)
			if h.TwoFactor != nil {
				authed.Route("/2fa", h.TwoFactor.RegisterRoutes)
			}
		})

		// Administration requires security.manage in the caller's organisation.
		api.Group(func(admin chi.Router) {
			admin.Use(middleware.RequirePermission(deps.Resolver, constants.PermissionSecurityManage))

			admin.Route("/orgs/{orgID}", h.Policy.RegisterRoutes)
			admin.Route("/users/{userID}/devices", h.Guard.RegisterDeviceRoutes)
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
