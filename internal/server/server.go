// Package server exposes the HTTP trigger API, health and debug endpoints,
// report lookups and the WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/cors"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/server/handler"
	"github.com/alanyoungcy/retropick/internal/server/middleware"
	"github.com/alanyoungcy/retropick/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the trigger and inspection routes. Empty with no
	// AuthorizedKeys disables authentication.
	APIKey         string
	AuthorizedKeys []common.Address
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Debug and
// Reports may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Trigger *handler.TriggerHandler
	Reports *handler.ReportsHandler
	Debug   *handler.DebugHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, rate
// limiting and CORS. limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey, cfg.AuthorizedKeys)
	protect := func(fn http.HandlerFunc) http.Handler { return auth(fn) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.Handle("POST /trigger/markets", protect(h.Trigger.CreateMarket))
	mux.Handle("POST /trigger/settlements", protect(h.Trigger.Settle))
	mux.Handle("POST /trigger/sessions", protect(h.Trigger.FinalizeSessions))

	if h.Reports != nil {
		mux.Handle("GET /api/reports/{kind}/{key}", protect(h.Reports.GetReport))
		mux.Handle("GET /api/attempts", protect(h.Reports.ListAttempts))
	}
	if h.Debug != nil {
		mux.Handle("GET /debug", protect(h.Debug.Debug))
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var handler http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		handler = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = newCORS(cfg.CORSOrigins).Handler(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute, // settlement waits for a receipt
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "Authorization", "X-API-Key",
			middleware.SignatureHeader, handler.TimestampHeader,
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	})
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving requests until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
