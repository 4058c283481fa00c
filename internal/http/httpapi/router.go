// Package httpapi assembles the chi router for the public API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/http/handlers"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/middleware"
)

// Options tunes router-level middleware.
type Options struct {
	Logger          zerolog.Logger
	RateLimitPerMin int
	StaticDir       string
}

// NewRouter wires middleware and routes around the handler set.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/images", func(r chi.Router) {
		r.Post("/generate", app.ImagesGenerate)
	})
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{job_id}", app.JobStatus)
	})
	r.Route("/v1/characters/{character_id}/identity", func(r chi.Router) {
		r.Post("/", app.IdentityStart)
		r.Get("/", app.IdentityProgress)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
