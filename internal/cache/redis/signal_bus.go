package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub. It carries
// quote and order events from the ingestion process to the broadcast hub,
// which may run in a different process.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription on exact channel names and
// returns a read-only channel of deliveries. The subscription closes when
// the context is cancelled; the returned channel is closed at that point as
// well.
func (sb *SignalBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.Message, error) {
	return sb.pump(ctx, sb.rdb.Subscribe(ctx, channels...), fmt.Sprintf("%v", channels))
}

// PSubscribe creates a Redis Pub/Sub subscription on glob patterns, e.g.
// "quotes:*".
func (sb *SignalBus) PSubscribe(ctx context.Context, patterns ...string) (<-chan domain.Message, error) {
	return sb.pump(ctx, sb.rdb.PSubscribe(ctx, patterns...), fmt.Sprintf("%v", patterns))
}

func (sb *SignalBus) pump(ctx context.Context, pubsub *redis.PubSub, desc string) (<-chan domain.Message, error) {
	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", desc, err)
	}

	out := make(chan domain.Message, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
