// Package httpapi serves the jokes API over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aqasim81/joke-server/internal/jokes"
)

// JokeSource is satisfied by *jokes.Store.
type JokeSource interface {
	Random(ctx context.Context) (jokes.Joke, error)
}

// HealthChecker is satisfied by *health.Probe.
type HealthChecker interface {
	Check(ctx context.Context) error
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Message  string `json:"message,omitempty"`
}

type handlers struct {
	jokes  JokeSource
	health HealthChecker
	logger *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Welcome to Jokes API"})
}

func (h *handlers) randomJoke(w http.ResponseWriter, r *http.Request) {
	joke, err := h.jokes.Random(r.Context())

	switch {
	case errors.Is(err, jokes.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No jokes found"})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "fetching joke", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch joke"})
	default:
		writeJSON(w, http.StatusOK, joke)
	}
}

func (h *handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Check(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "error",
			Database: "disconnected",
			Message:  err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Database: "connected"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
