package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sapphire/support-core/internal/domain"
)

// RedisPublisher forwards committed events to a Redis pub/sub channel so other processes
// (dashboards, CRM sync) can follow the log. Each event goes to the base channel and to
// "<channel>:<entity_type>".
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher builds a publisher for channel.
func NewRedisPublisher(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis_publisher")),
	}
}

// Attach subscribes the publisher to every event of d.
func (p *RedisPublisher) Attach(d Dispatcher) {
	d.SubscribeAll(p.Handle)
}

// Handle publishes one event.
func (p *RedisPublisher) Handle(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	typed := p.channel + ":" + string(ev.EntityType)
	if err := p.client.Publish(ctx, typed, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", typed, err)
	}
	return nil
}

// Subscribe streams envelopes published on channel until ctx ends.
func Subscribe(ctx context.Context, client redis.UniversalClient, channel string) (<-chan Envelope, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
