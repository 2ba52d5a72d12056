// Package server exposes the analytics engine over a JSON HTTP API. It is
// the thin serving surface in front of the engine; all quantitative logic
// lives in the engine and its component packages.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rfinnegan/thetaguard/internal/engine"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// Config holds server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server serves the analytics engine as a JSON API.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    *engine.Engine
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer creates a Server around an engine. A nil logger discards
// diagnostics.
func NewServer(cfg Config, eng *engine.Engine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    eng,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/api/v1/stoploss", s.handleStopLoss)
	s.router.Post("/api/v1/estimate", s.handleEstimate)
	s.router.Post("/api/v1/decay", s.handleDecay)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting analytics server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps engine failures onto HTTP status codes: validation
// problems are the client's fault, missing market data is a 404, upstream
// provider failures are a 502.
func statusForError(err error) int {
	var apiErr *marketdata.APIError
	switch {
	case errors.Is(err, marketdata.ErrInvalidExpiration),
		errors.Is(err, marketdata.ErrDataUnavailable):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
