// Package server exposes the profile registry and the scheduler over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/config"
	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/profiles"
	"github.com/clofast/clofast/internal/scheduler"
)

type Server struct {
	cfg        *config.Config
	db         *database.DB
	registry   *profiles.Registry
	engine     *scheduler.Engine
	history    *scheduler.HistoryStore
	version    string
	httpServer *http.Server
	router     *Router
}

type Option func(*Server)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

func New(cfg *config.Config, db *database.DB, registry *profiles.Registry, engine *scheduler.Engine, history *scheduler.HistoryStore, opts ...Option) *Server {
	srv := &Server{
		cfg:      cfg,
		db:       db,
		registry: registry,
		engine:   engine,
		history:  history,
		version:  "dev",
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.router
}
