// Package endpointinfo serves the boundary view of an endpoint behind a
// read-through cache. Only successful lookups are cached: a miss today may be
// a freshly-created endpoint tomorrow, and a short TTL keeps a deleted
// endpoint from answering for long.
package endpointinfo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/hookvault/hookvault/internal/http/response"
	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/validation"
)

// CacheTTL bounds how stale a cached endpoint view may be.
const CacheTTL = 60 * time.Second

type Handler struct {
	log       *slog.Logger
	repo      Repository
	cache     Cache
	validator *validation.Validator
}

type Repository interface {
	GetEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error)
}

type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
}

func New(log *slog.Logger, repo Repository, cache Cache) *Handler {
	return &Handler{
		log:       log,
		repo:      repo,
		cache:     cache,
		validator: validation.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.endpointinfo"

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

	cacheKey := "endpoint:" + slug

	if h.cache != nil {
		var cached models.EndpointInfo
		found, err := h.cache.Get(cacheKey, &cached)
		if err != nil {
			log.Warn("cache read failed", sl.Err(err))
		}
		if found {
			render.JSON(w, r, response.StatusOKWithData(cached))
			return
		}
	}

	endpoint, err := h.repo.GetEndpointBySlug(r.Context(), slug)
	if errors.Is(err, models.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error(response.CodeNotFound))
		return
	}
	if err != nil {
		log.Error("failed to load endpoint", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(response.CodeInternal))
		return
	}

	info := models.EndpointInfo{
		EndpointID:   endpoint.ID,
		UserID:       endpoint.UserID,
		IsEphemeral:  endpoint.IsEphemeral,
		ExpiresAt:    models.EpochMillisPtr(endpoint.ExpiresAt),
		MockResponse: endpoint.MockResponse,
	}

	if h.cache != nil {
		if err := h.cache.Set(cacheKey, info, CacheTTL); err != nil {
			log.Warn("cache write failed", sl.Err(err))
		}
	}

	render.JSON(w, r, response.StatusOKWithData(info))
}
