package server

import (
	"net/http"

	"github.com/clofast/clofast/internal/metrics"
	"github.com/clofast/clofast/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	handler     http.Handler
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	handler := http.Handler(r.mux)
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	r.handler = handler

	return r
}

func (r *Router) setupMiddleware() {
	cfg := r.server.cfg

	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(cfg.Server.CORS))
	}
	if cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(cfg.Server.MaxBodySize))
	}
	if cfg.Metrics.Enabled {
		r.Use(MetricsMiddleware(cfg.Metrics.Path))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	srv := r.server
	h := handlers.New(srv.registry, srv.engine, srv.history)
	health := handlers.NewHealthHandlers(srv.db, srv.engine, srv.version)

	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)

	r.mux.HandleFunc("POST /api/profiles", h.CreateProfile)
	r.mux.HandleFunc("GET /api/profiles", h.ListProfiles)
	r.mux.HandleFunc("GET /api/profiles/status", h.ProfileStatusSummary)
	r.mux.HandleFunc("GET /api/profiles/{id}", h.GetProfile)
	r.mux.HandleFunc("DELETE /api/profiles/{id}", h.DeleteProfile)
	r.mux.HandleFunc("PUT /api/profiles/{id}/schedule", h.RescheduleProfile)
	r.mux.HandleFunc("PUT /api/profiles/{id}/status", h.SetProfileStatus)
	r.mux.HandleFunc("GET /api/profiles/{id}/documents", h.ListDocuments)
	r.mux.HandleFunc("POST /api/profiles/{id}/documents", h.AddDocument)

	r.mux.HandleFunc("GET /api/jobs", h.ListJobs)
	r.mux.HandleFunc("GET /api/jobs/{id}/firings", h.ListFirings)

	if srv.cfg.Metrics.Enabled {
		r.mux.Handle("GET "+srv.cfg.Metrics.Path, metrics.Handler())
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}
