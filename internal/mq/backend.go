package mq

import (
	"context"
	"fmt"

	"github.com/reeltask/authserver/config"
)

// FromConfig constructs the broker backend named by config.
func FromConfig(ctx context.Context, cfg config.QueueConfig) (Backend, error) {
	switch cfg.Backend {
	case "rabbitmq":
		return NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
