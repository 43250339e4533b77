package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/actorkit/actorkit/pkg/auth"
	"github.com/actorkit/actorkit/pkg/logging"
	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/ratelimit"
	"github.com/actorkit/actorkit/pkg/storage"
	"github.com/actorkit/actorkit/pkg/tracing"
)

// ServerConfig holds the platform server settings
type ServerConfig struct {
	Addr string

	// APIToken guards the API when non-empty.
	APIToken string

	// RateLimitRPS enables per-caller rate limiting when positive.
	RateLimitRPS   float64
	RateLimitBurst int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracing *tracing.Provider
}

// Server is the local platform emulator HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewServer builds the emulator server around a storage backend.
// Middleware order: tracing, rate limit, auth, then the handlers.
func NewServer(cfg ServerConfig, store storage.Store) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	router := mux.NewRouter()

	if cfg.Tracing != nil {
		router.Use(tracing.HTTPMiddleware(cfg.Tracing))
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS)
		}
		limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, burst)
		router.Use(limiter.Middleware(ratelimit.TokenKeyFunc))
	}

	// Health and metrics stay reachable without a token
	router.Use(exempting(auth.StaticTokenMiddleware(cfg.APIToken), "/v2/health", "/metrics"))

	handler := NewHandler(store, log, m)
	handler.RegisterRoutes(router)

	router.Handle("/metrics", m.Handler()).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		router:  router,
		log:     log,
		metrics: m,
	}
}

// exempting skips the wrapped middleware for the listed exact paths
func exempting(mw func(http.Handler) http.Handler, paths ...string) mux.MiddlewareFunc {
	exempt := make(map[string]bool, len(paths))
	for _, p := range paths {
		exempt[p] = true
	}
	return func(next http.Handler) http.Handler {
		guarded := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

// Router exposes the underlying router, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start runs the server until it is shut down
func (s *Server) Start() error {
	s.log.Info("Platform emulator listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// StartTLS runs the server over TLS until it is shut down
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.log.Info("Platform emulator listening with TLS", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
