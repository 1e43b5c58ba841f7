// Package server wires the HTTP surface: the session API, the WebSocket
// log stream, and the middleware stack around them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/gosuda/parax/internal/api/v1"
	"github.com/gosuda/parax/internal/api/ws"
	"github.com/gosuda/parax/internal/config"
	"github.com/gosuda/parax/internal/server/middleware"
	"github.com/gosuda/parax/internal/session"
)

// Server is the HTTP server exposing session control and log streaming.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	sessions   *session.Registry
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds background
// middleware state (rate limiter cleanup).
func New(ctx context.Context, cfg *config.Config, sessions *session.Registry, workers v1.WorkerFactory) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)

	s := &Server{
		router:   router,
		sessions: sessions,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 100, 200))

		apiConfig := huma.DefaultConfig("Parax API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterSessionRoutes(api, sessions, workers, cfg.Server.LogBufferSize)
	})

	hub := ws.NewHub(sessions)
	router.Route("/ws", func(r chi.Router) {
		r.Get("/sessions/{sessionID}/logs", hub.ServeSessionLogs)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
