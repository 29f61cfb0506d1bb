// Package capture serves the single-request capture operation. The stored
// request is stamped server-side; the answer is the endpoint's mock response
// for the receiver to replay to the webhook sender.
package capture

import (
	"context"
	"encoding/json"
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
	Capture(ctx context.Context, slug string, item models.CaptureItem) (*models.MockResponse, error)
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		validator: validation.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.capture"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	slug := chi.URLParam(r, "slug")
	if verr := h.validator.Slug(slug); verr != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(verr))
		return
	}

	var item models.CaptureItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(response.CodeInvalidBody))
		return
	}
	if verr := h.validator.Item(item, false); verr != nil {
		log.Error("validation failed", slog.String("code", verr.Code))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(verr))
		return
	}

	mock, err := h.service.Capture(r.Context(), slug, item)
	if errors.Is(err, models.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error(response.CodeNotFound))
		return
	}
	if errors.Is(err, models.ErrExpired) {
		w.WriteHeader(http.StatusGone)
		render.JSON(w, r, response.Error(response.CodeExpired))
		return
	}
	if err != nil {
		log.Error("failed to capture request", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(mock))
}
