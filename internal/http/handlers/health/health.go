// Package health serves the readiness probe.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/hookvault/hookvault/internal/http/response"
	"github.com/hookvault/hookvault/internal/lib/sl"
)

type Handler struct {
	log     *slog.Logger
	checker ReadyChecker
}

type ReadyChecker interface {
	CheckDatabaseReady(ctx context.Context) error
}

func New(log *slog.Logger, checker ReadyChecker) *Handler {
	return &Handler{log: log, checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.CheckDatabaseReady(r.Context()); err != nil {
		h.log.Error("database not ready", sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}
	render.JSON(w, r, response.OK())
}
