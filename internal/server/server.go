package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"m365gate/internal/apierrors"
	"m365gate/internal/authflow"
	"m365gate/internal/config"
	"m365gate/internal/identity"
	"m365gate/internal/mcpserver"
	"m365gate/internal/metrics"
	"m365gate/internal/tools"
	"m365gate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	defaultAuthTimeout       = 30 * time.Second
	rateLimitCleanupInterval = time.Minute
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Config     config.Config
	Version    string
	Resolver   *identity.Resolver
	Auth       *authflow.Service
	Dispatcher *tools.Dispatcher
	MCP        *mcpserver.Transport
	Metrics    *metrics.Metrics
	// DebugCounts reports in-memory state sizes on /debug/sessions in
	// development mode. Optional.
	DebugCounts func() map[string]int
}

// Server is the gateway's HTTP surface.
type Server struct {
	cfg         config.Config
	version     string
	resolver    *identity.Resolver
	auth        *authflow.Service
	dispatcher  *tools.Dispatcher
	mcp         *mcpserver.Transport
	metrics     *metrics.Metrics
	debugCounts func() map[string]int

	apiLimiter  *RateLimiter
	authLimiter *RateLimiter
	cors        *corsPolicy
	started     time.Time

	handler    http.Handler
	httpServer *http.Server
}

// New builds the router.
func New(d Deps) *Server {
	s := &Server{
		cfg:         d.Config,
		version:     d.Version,
		resolver:    d.Resolver,
		auth:        d.Auth,
		dispatcher:  d.Dispatcher,
		mcp:         d.MCP,
		metrics:     d.Metrics,
		debugCounts: d.DebugCounts,
		apiLimiter: NewRateLimiter(RateLimiterConfig{
			Name: "api", Max: d.Config.RateLimit.Max, Window: d.Config.RateLimit.Window,
		}),
		authLimiter: NewRateLimiter(RateLimiterConfig{
			Name: "auth", Max: d.Config.RateLimit.AuthMax, Window: d.Config.RateLimit.Window,
		}),
		cors:    newCORSPolicy(d.Config.CORS.AllowedOrigins, d.Config.IsDevelopment()),
		started: time.Now(),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(s.cors.middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, apierrors.NotFound("No such endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteJSON(w, http.StatusMethodNotAllowed, apierrors.Body{
			Error: apierrors.CodeInvalidRequest, ErrorDescription: "Method not allowed",
		})
	})

	r.Get("/health", s.serveHealth)
	r.Get("/tools", s.serveCatalogue)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	authTimeout := s.cfg.Server.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	for _, prefix := range []string{"/auth", "/api/auth"} {
		r.Route(prefix, func(r chi.Router) {
			r.Use(s.rateLimit(s.authLimiter))
			r.Use(middleware.Timeout(authTimeout))
			s.auth.Routes(r, s.resolver.Require, s.resolver.Optional)
		})
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit(s.apiLimiter))
		r.Use(s.resolver.Require)
		r.Get("/permissions", s.servePermissions)
		s.mountTools(r)
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Use(s.rateLimit(s.apiLimiter))
		s.mcp.Routes(r, s.resolver.Require)
	})

	if s.cfg.IsDevelopment() {
		r.Get("/debug/config", s.serveDebugConfig)
		r.Get("/debug/sessions", s.serveDebugSessions)
	}
	return r
}

// ApplyConfig applies the hot-reloadable settings: CORS allowlist and
// rate-limit ceilings.
func (s *Server) ApplyConfig(cfg config.Config) {
	s.cors.set(cfg.CORS.AllowedOrigins, cfg.IsDevelopment())
	s.apiLimiter.SetLimit(cfg.RateLimit.Max, cfg.RateLimit.Window)
	s.authLimiter.SetLimit(cfg.RateLimit.AuthMax, cfg.RateLimit.Window)
	logging.Info("HTTP", "Applied configuration reload (%d CORS origins, limits %d/%d per %s)",
		len(cfg.CORS.AllowedOrigins), cfg.RateLimit.Max, cfg.RateLimit.AuthMax, cfg.RateLimit.Window)
}

// Start listens on the configured address and serves until Shutdown. It
// returns once the listener is bound.
func (s *Server) Start() (net.Addr, <-chan error, error) {
	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.apiLimiter.StartCleanup(rateLimitCleanupInterval)
	s.authLimiter.StartCleanup(rateLimitCleanupInterval)

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info("HTTP", "Listening on %s", ln.Addr())
	return ln.Addr(), errCh, nil
}

// Shutdown closes SSE streams, then stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mcp.Close()
	s.apiLimiter.Stop()
	s.authLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
