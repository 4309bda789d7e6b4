package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// DefaultEventChannel is the pub/sub channel lifecycle events are published on.
const DefaultEventChannel = "regtech:events"

// RedisEventPublisher publishes lifecycle events as JSON on a Redis pub/sub channel.
// Publish is fire-and-forget and logs errors; Send reports them.
type RedisEventPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// RedisEventPublisherOptions configures a RedisEventPublisher.
type RedisEventPublisherOptions struct {
	Client  redis.UniversalClient
	Channel string
	Logger  *slog.Logger
}

// NewRedisEventPublisher creates a publisher. An empty channel uses DefaultEventChannel.
func NewRedisEventPublisher(opts RedisEventPublisherOptions) *RedisEventPublisher {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultEventChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisEventPublisher{
		client:  opts.Client,
		channel: channel,
		logger:  logger.With("component", "redis_event_publisher"),
	}
}

var _ core.EventSink = (*RedisEventPublisher)(nil)

// Publish sends event to the channel and logs any failure.
func (p *RedisEventPublisher) Publish(ctx context.Context, event model.Event) {
	if err := p.Send(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "publish event", "type", event.Type, "channel", p.channel, "error", err)
	}
}

// Send publishes event and reports the outcome. It satisfies notify.Sink so the
// publisher can be registered with the event fan-out.
func (p *RedisEventPublisher) Send(ctx context.Context, event model.Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
