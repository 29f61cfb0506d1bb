// Package scheduler assembles the timer process: sweep kickoffs, billing
// reconciliation and promotion of stored timed tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/hookvault/hookvault/internal/config"
	librabbitmq "github.com/hookvault/hookvault/internal/lib/rabbitmq"
	"github.com/hookvault/hookvault/internal/rabbitmq"
	schedulerservice "github.com/hookvault/hookvault/internal/services/scheduler"
	"github.com/hookvault/hookvault/internal/storage"
)

type App struct {
	schedulerService *schedulerservice.SchedulerService
	conn             *amqp.Connection
	ch               *amqp.Channel
	db               *storage.Storage
	logger           *slog.Logger
}

func waitForDB(ctx context.Context, db *storage.Storage) error {
	for range 10 {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetTaskQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	pub := librabbitmq.NewTasksPublisher(ch)

	return &App{
		schedulerService: schedulerservice.NewSchedulerService(db, pub, logger),
		conn:             conn,
		ch:               ch,
		db:               db,
		logger:           logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	go a.schedulerService.RunExpirySweeps(ctx)
	go a.schedulerService.RunRetentionSweeps(ctx)
	go a.schedulerService.RunBillingReconciliation(ctx)
	go a.schedulerService.RunTaskPromotion(ctx)

	<-ctx.Done()
	a.logger.Info("scheduler shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	_ = a.db.DB.Close()
	return nil
}
