package ingest

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/hookvault/hookvault/internal/cache"
	"github.com/hookvault/hookvault/internal/http/handlers/accountdelete"
	"github.com/hookvault/hookvault/internal/http/handlers/capture"
	"github.com/hookvault/hookvault/internal/http/handlers/capturebatch"
	"github.com/hookvault/hookvault/internal/http/handlers/checkperiod"
	"github.com/hookvault/hookvault/internal/http/handlers/endpointinfo"
	"github.com/hookvault/hookvault/internal/http/handlers/health"
	"github.com/hookvault/hookvault/internal/http/handlers/quota"
	"github.com/hookvault/hookvault/internal/http/middlewarectx"
	librabbitmq "github.com/hookvault/hookvault/internal/lib/rabbitmq"
	captureservice "github.com/hookvault/hookvault/internal/services/capture"
	quotaservice "github.com/hookvault/hookvault/internal/services/quota"
	"github.com/hookvault/hookvault/internal/storage"
)

// RegisterRoutes mounts the whole boundary: the authenticated /api/v1
// surface, the metrics endpoint, the docs and the readiness probe.
func RegisterRoutes(
	r chi.Router,
	logger *slog.Logger,
	db *storage.Storage,
	cacheRedis *cache.Cache,
	pub *librabbitmq.TasksPublisher,
	quotaService *quotaservice.Service,
	captureService *captureservice.Service,
	secret string,
) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.SharedSecretMiddleware(secret, logger))
		r.Use(middlewarectx.RateLimitMiddleware(rate.NewLimiter(500, 1000), logger))

		r.Get("/quota/{slug}", quota.New(logger, quotaService).ServeHTTP)
		r.Post("/check-period", checkperiod.New(logger, quotaService).ServeHTTP)
		r.Get("/endpoints/{slug}", endpointinfo.New(logger, db, cacheRedis).ServeHTTP)
		r.Post("/capture/{slug}", capture.New(logger, captureService).ServeHTTP)
		r.Post("/capture/{slug}/batch", capturebatch.New(logger, captureService).ServeHTTP)
		r.Post("/accounts/{userId}/delete", accountdelete.New(logger, pub).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
	r.Get("/health", health.New(logger, db).ServeHTTP)
}
