// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package server is the gateway's HTTP surface: POST /chat, GET /health and
// GET /telemetry, with hop and rate-limit admission in front of the router.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/waypoint-dev/waypoint/internal/authority"
	"github.com/waypoint-dev/waypoint/internal/hopguard"
	"github.com/waypoint-dev/waypoint/internal/ratelimit"
	"github.com/waypoint-dev/waypoint/internal/router"
	"github.com/waypoint-dev/waypoint/internal/store"
	"github.com/waypoint-dev/waypoint/internal/telemetry"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	pkghealth "github.com/waypoint-dev/waypoint/pkg/health"
)

// Header names read from callers.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderTraceID       = "X-Trace-ID"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr     string
	CORSOrigins    []string
	TrustedProxies []string
	// CallerHeader names the header identifying the caller for rate
	// limiting. Callers without it are keyed by client IP.
	CallerHeader string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// ChatRouter routes admitted chat requests.
type ChatRouter interface {
	Route(ctx context.Context, req router.Request) (router.Response, *store.DecisionTrace)
	ProviderHealth() map[string]pkghealth.Metrics
	DefaultIntent() string
}

// Authority is the view of the authoritative store that /health needs.
type Authority interface {
	Chain(ctx context.Context, intent string) authority.ChainResult
	Ping(ctx context.Context) error
}

// Deps are the server's collaborators. Router may be nil, in which case
// /chat answers 503. Limiter may be nil to disable rate limiting.
type Deps struct {
	Router    ChatRouter
	Authority Authority
	Guard     *hopguard.Guard
	Limiter   *ratelimit.Limiter
	Traces    router.Recorder
	Metrics   *telemetry.Metrics
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router    chi.Router
	api       huma.API
	cfg       Config
	chat      ChatRouter
	authority Authority
	guard     *hopguard.Guard
	limiter   *ratelimit.Limiter
	traces    router.Recorder
	metrics   *telemetry.Metrics
	nowFunc   func() time.Time
}

// New creates a Server with chi router, huma API, CORS and the gateway
// routes registered.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "listen address is required")
	}
	switch {
	case deps.Authority == nil:
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "authority client is required")
	case deps.Guard == nil:
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "hop guard is required")
	case deps.Traces == nil:
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "trace recorder is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics()
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if len(cfg.TrustedProxies) > 0 {
		trusted, err := parseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		r.Use(trustedProxyRealIP(trusted))
	}
	r.Use(corsMiddleware(cfg.CORSOrigins, cfg.CallerHeader))
	r.Use(callerMiddleware(cfg.CallerHeader))

	humaConfig := huma.DefaultConfig("Waypoint Gateway", cfg.Version)
	humaConfig.Info.Description = "Multi-provider LLM gateway with fallback routing"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:    r,
		api:       api,
		cfg:       cfg,
		chat:      deps.Router,
		authority: deps.Authority,
		guard:     deps.Guard,
		limiter:   deps.Limiter,
		traces:    deps.Traces,
		metrics:   deps.Metrics,
		nowFunc:   time.Now,
	}
	srv.registerChatRoute()
	srv.registerHealthRoute()
	srv.registerTelemetryRoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, used to render the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return wperr.Wrapf(err, wperr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return wperr.Wrap(err, wperr.CodeServerStartFailure, "serving http")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return wperr.Wrap(err, wperr.CodeServerShutdownFailure, "shutting down")
	}

	return <-errCh
}

func corsMiddleware(origins []string, callerHeader string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	allowed := []string{"Accept", "Authorization", "Content-Type", hopguard.Header, HeaderCorrelationID}
	if callerHeader != "" {
		allowed = append(allowed, callerHeader)
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   allowed,
		ExposedHeaders:   []string{"Retry-After", HeaderTraceID},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
