// Package checkperiod serves the admission check that lazily activates a free
// user's quota period. An exhausted quota answers 429 with the time until the
// period rolls over.
package checkperiod

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/hookvault/hookvault/internal/http/response"
	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
)

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

type Service interface {
	CheckAndStartPeriod(ctx context.Context, userID string) (*models.PeriodCheck, error)
}

type Request struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkperiod"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(response.CodeInvalidBody))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error(response.CodeInvalidBody))
		return
	}

	check, err := h.service.CheckAndStartPeriod(r.Context(), req.UserID)
	if errors.Is(err, models.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error(response.CodeNotFound))
		return
	}
	var exceeded *models.QuotaExceededError
	if errors.As(err, &exceeded) {
		retryAfterMs := exceeded.RetryAfter.Milliseconds()
		w.WriteHeader(http.StatusTooManyRequests)
		render.JSON(w, r, response.Response{
			Status: response.StatusError,
			Error:  response.CodeQuotaExceeded,
			Data:   map[string]any{"retryAfter": retryAfterMs},
		})
		return
	}
	if err != nil {
		log.Error("failed to check period", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(check))
}
