package rabbitmq

import "github.com/hookvault/hookvault/internal/tasks"

// QueueConfig binds one durable queue to a routing key on the tasks exchange.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetTaskQueues returns the full queue topology consumed by the worker.
func GetTaskQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "tasks.accounting", RoutingKey: tasks.KeyAccounting},
		{QueueName: "tasks.reaper", RoutingKey: tasks.KeyReaper},
		{QueueName: "tasks.account", RoutingKey: tasks.KeyAccount},
		{QueueName: "tasks.period", RoutingKey: tasks.KeyPeriod},
		{QueueName: "tasks.billing", RoutingKey: tasks.KeyBilling},
	}
}
