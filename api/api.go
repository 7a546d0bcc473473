package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/jobq/engine"
)

// API serves the HTTP routes of one Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request errors. Defaults to the
// engine's dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Dispatcher().Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a router with every route and the standard middleware.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the /v1 routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.submitJob)
			r.Get("/", a.listJobs)
			r.Get("/{jobId}", a.getJob)
			r.Delete("/{jobId}", a.removeJob)
			r.Post("/{jobId}/retry", a.retryJob)
		})
		r.Get("/stats", a.stats)
		r.Post("/cleanup", a.cleanup)
		r.Get("/events", a.events)
	})

	r.Get("/healthz", a.health)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Dispatcher().Store().Ping(r.Context()); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
