package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel carrying events.
const DefaultChannel = "huddle:events"

// Deliverer hands an event to local subscribers.
type Deliverer interface {
	Deliver(event Event) (int, error)
}

// RedisBridge publishes events through Redis so every API instance
// delivers them to its own websocket clients.
type RedisBridge struct {
	client  *redis.Client
	channel string
	local   Deliverer
	log     *slog.Logger
}

func NewRedisBridge(client *redis.Client, local Deliverer) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: DefaultChannel,
		local:   local,
		log:     slog.Default().With("component", "realtime"),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Start subscribes to the channel and forwards events to the local hub
// until ctx is canceled. It returns once the subscription is confirmed.
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("drop malformed event", "error", err)
					continue
				}
				if _, err := b.local.Deliver(event); err != nil {
					b.log.Warn("deliver event", "topic", event.Topic, "error", err)
				}
			}
		}
	}()
	return nil
}
