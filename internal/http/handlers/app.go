// Package handlers holds the HTTP endpoints for the generation API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/generate"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/identity"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/jobs"
)

// App bundles the services the HTTP handlers depend on.
type App struct {
	Generate *generate.Service
	Jobs     *jobs.Manager
	Identity *identity.Pipeline
	Logger   zerolog.Logger
}

func NewApp(gen *generate.Service, jobs *jobs.Manager, identity *identity.Pipeline, logger zerolog.Logger) *App {
	return &App{Generate: gen, Jobs: jobs, Identity: identity, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps service errors onto HTTP status codes shared by all handlers.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var vendorErr *backend.VendorError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrActiveIdentity):
		a.error(w, http.StatusConflict, "active_identity", "character already has an identity in progress")
	case errors.As(err, &vendorErr):
		a.Logger.Error().Err(err).Msg("handlers: vendor error")
		a.error(w, http.StatusBadGateway, "vendor_error", "generation backend rejected the request")
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
