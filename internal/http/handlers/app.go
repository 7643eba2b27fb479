package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"soradesk/internal/domain"
	"soradesk/internal/gallery"
	"soradesk/internal/infra"
	"soradesk/internal/providers/prompt"
	"soradesk/internal/queue"
)

// App bundles the handler dependencies. Handlers are thin: validation and
// policy live in the queue controller and the gallery.
type App struct {
	Queue    *queue.Controller
	Gallery  *gallery.Library
	Enhancer prompt.Enhancer
	Logger   *infra.Logger
}

func NewApp(q *queue.Controller, g *gallery.Library, e prompt.Enhancer, logger *infra.Logger) *App {
	return &App{Queue: q, Gallery: g, Enhancer: e, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"code": code, "message": message})
}

// domainError maps sentinel domain errors onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidPrompt), errors.Is(err, domain.ErrInvalidSettings):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrJobProcessing):
		a.error(w, http.StatusConflict, "conflict", "job is currently processing")
	case errors.Is(err, domain.ErrExpired):
		a.error(w, http.StatusGone, "expired", "generation is no longer retrievable")
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
