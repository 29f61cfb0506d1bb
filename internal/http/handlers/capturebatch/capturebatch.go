// Package capturebatch serves the batch capture operation: up to the batch
// limit of already-received requests inserted in one transaction, with their
// own receive timestamps checked against the freshness window.
package capturebatch

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
	CaptureBatch(ctx context.Context, slug string, items []models.CaptureItem) (int, *models.MockResponse, error)
}

type Request struct {
	Requests []models.CaptureItem `json:"requests"`
}

type Result struct {
	Inserted     int                  `json:"inserted"`
	MockResponse *models.MockResponse `json:"mockResponse"`
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		validator: validation.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.capturebatch"

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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(response.CodeInvalidBody))
		return
	}
	if verr := h.validator.Batch(req.Requests); verr != nil {
		log.Error("validation failed", slog.String("code", verr.Code))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(verr))
		return
	}

	inserted, mock, err := h.service.CaptureBatch(r.Context(), slug, req.Requests)
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
		log.Error("failed to capture batch", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	log.Info("captured batch", slog.Int("inserted", inserted))
	render.JSON(w, r, response.StatusOKWithData(Result{
		Inserted:     inserted,
		MockResponse: mock,
	}))
}
