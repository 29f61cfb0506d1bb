// Package worker assembles the queue consumer process: it drains the task
// queues and dispatches each message to the service executing it. Handler
// errors nack the message back onto its queue; the services behind them are
// idempotent enough to survive a redelivery.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/hookvault/hookvault/internal/cache"
	"github.com/hookvault/hookvault/internal/config"
	librabbitmq "github.com/hookvault/hookvault/internal/lib/rabbitmq"
	"github.com/hookvault/hookvault/internal/metrics"
	"github.com/hookvault/hookvault/internal/rabbitmq"
	accountantservice "github.com/hookvault/hookvault/internal/services/accountant"
	quotaservice "github.com/hookvault/hookvault/internal/services/quota"
	reaperservice "github.com/hookvault/hookvault/internal/services/reaper"
	reconcilerservice "github.com/hookvault/hookvault/internal/services/reconciler"
	"github.com/hookvault/hookvault/internal/storage"
	"github.com/hookvault/hookvault/internal/tasks"
)

type App struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	db         *storage.Storage
	accountant *accountantservice.Service
	quota      *quotaservice.Service
	reaper     *reaperservice.Service
	reconciler *reconcilerservice.Service
	logger     *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
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

	return &App{
		conn:       conn,
		ch:         ch,
		db:         db,
		accountant: accountantservice.New(db, logger),
		quota:      quotaservice.New(db, pub, logger),
		reaper:     reaperservice.New(db, pub, cacheRedis, logger),
		reconciler: reconcilerservice.New(db, pub, logger),
		logger:     logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	consumers := map[string]func([]byte) error{
		"tasks.accounting": dispatch(ctx, "tasks.accounting", a.accountant.Execute),
		"tasks.reaper":     dispatch(ctx, "tasks.reaper", a.reaper.Run),
		"tasks.account":    dispatch(ctx, "tasks.account", a.reaper.RunAccountDeletion),
		"tasks.period": dispatch(ctx, "tasks.period", func(ctx context.Context, t tasks.PeriodResetTask) error {
			return a.quota.ResetPeriod(ctx, t.UserID)
		}),
		"tasks.billing": dispatch(ctx, "tasks.billing", a.reconciler.Run),
	}

	for queue, handler := range consumers {
		if err := rabbitmq.ConsumeMessages(ctx, a.ch, queue, handler); err != nil {
			a.logger.Error("failed to start consumer",
				slog.String("queue", queue), slog.Any("err", err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("worker shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	_ = a.db.DB.Close()
	return nil
}

// dispatch adapts a typed task handler to the raw consumer callback. A body
// that does not unmarshal is a permanent failure and is dropped rather than
// redelivered forever.
func dispatch[T any](ctx context.Context, queue string, run func(context.Context, T) error) func([]byte) error {
	return func(body []byte) error {
		var task T
		if err := json.Unmarshal(body, &task); err != nil {
			metrics.TasksFailedTotal.WithLabelValues(queue).Inc()
			return nil
		}
		if err := run(ctx, task); err != nil {
			metrics.TasksFailedTotal.WithLabelValues(queue).Inc()
			return fmt.Errorf("handle %s: %w", queue, err)
		}
		return nil
	}
}
