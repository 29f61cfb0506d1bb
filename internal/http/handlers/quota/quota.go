// Package quota serves the read-only quota snapshot for a slug.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/hookvault/hookvault/internal/http/response"
	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/validation"
)

type Handler struct {
	log       *slog.Logger
	service   Service
	validator *validation.Validator
}

type Service interface {
	GetQuota(ctx context.Context, slug string) (*models.QuotaSnapshot, error)
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		validator: validation.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.quota"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	slug := chi.URLParam(r, "slug")
	if verr := h.validator.Slug(slug); verr != nil {
		log.Error("invalid slug", slog.String("slug", slug))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(verr))
		return
	}

	snapshot, err := h.service.GetQuota(r.Context(), slug)
	if errors.Is(err, models.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error(response.CodeNotFound))
		return
	}
	if err != nil {
		log.Error("failed to compute quota", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(snapshot))
}
