// Package ingest assembles the HTTP ingest process: storage with migrations,
// the endpoint-info cache, the task broker connection and the boundary
// routes.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/hookvault/hookvault/internal/cache"
	"github.com/hookvault/hookvault/internal/config"
	librabbitmq "github.com/hookvault/hookvault/internal/lib/rabbitmq"
	"github.com/hookvault/hookvault/internal/migrations"
	"github.com/hookvault/hookvault/internal/rabbitmq"
	captureservice "github.com/hookvault/hookvault/internal/services/capture"
	quotaservice "github.com/hookvault/hookvault/internal/services/quota"
	"github.com/hookvault/hookvault/internal/storage"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *storage.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetTaskQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	pub := librabbitmq.NewTasksPublisher(ch)
	quotaService := quotaservice.New(db, pub, logger)
	captureService := captureservice.New(db, pub, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, db, cacheRedis, pub, quotaService, captureService, cfg.ReceiverSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.ch.Close()
		_ = a.conn.Close()
		_ = a.db.DB.Close()
		return err
	}
}
