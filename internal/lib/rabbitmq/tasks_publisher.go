package rabbitmq

import (
	"github.com/streadway/amqp"

	"github.com/hookvault/hookvault/internal/metrics"
	"github.com/hookvault/hookvault/internal/tasks"
)

// TasksPublisher publishes deferred-task messages onto the tasks exchange.
// It satisfies the TaskPublisher interfaces declared by the services.
type TasksPublisher struct {
	ch *amqp.Channel
}

// NewTasksPublisher wraps an open channel.
func NewTasksPublisher(ch *amqp.Channel) *TasksPublisher {
	return &TasksPublisher{ch: ch}
}

// Publish sends one persistent task message with the given routing key.
func (p *TasksPublisher) Publish(routingKey string, message any) error {
	if err := PublishMessage(p.ch, tasks.TasksExchange, routingKey, message); err != nil {
		return err
	}
	metrics.TasksPublishedTotal.WithLabelValues(routingKey).Inc()
	return nil
}
