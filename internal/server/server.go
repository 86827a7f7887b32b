package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/loomhq/loom/internal/handler"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/server/middleware"
	"github.com/loomhq/loom/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DefaultConfig returns a Config with sensible defaults for a local server.
// The listener binds loopback only: the API serves the desktop UI and local
// integrations, not the open network.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8317,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Server is the top-level HTTP server for Loom's local API. It owns the Chi
// router, the key manager, and the token service.
type Server struct {
	cfg        Config
	router     chi.Router
	keys       *service.KeyManager
	tokens     *service.TokenService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, keys *service.KeyManager, tokens *service.TokenService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		keys:   keys,
		tokens: tokens,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health check (no auth required) ---
	r.Get("/healthz", s.handleHealthz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler().ServeSpec)

	keyHandler := handler.NewKeyHandler(s.keys, s.tokens)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Anonymous-tolerant status endpoint.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuthenticate(s.keys, s.tokens))
			r.Get("/status", keyHandler.Status)
		})

		// Any authenticated caller.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.keys, s.tokens))

			r.Post("/auth/token", keyHandler.IssueToken)
			r.Get("/auth/whoami", keyHandler.WhoAmI)
		})

		// Key management requires the admin permission.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.keys, s.tokens))
			r.Use(middleware.RequirePermission(model.PermissionAdmin))

			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.CreateKey)
			r.Get("/keys/{keyID}", keyHandler.GetKey)
			r.Patch("/keys/{keyID}", keyHandler.UpdateKey)
			r.Delete("/keys/{keyID}", keyHandler.RevokeKey)
			r.Post("/keys/{keyID}/enable", keyHandler.EnableKey)
			r.Post("/keys/{keyID}/disable", keyHandler.DisableKey)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
