package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lagerkoll/internal/realtime"
)

// Redis relays events over a Redis pub/sub channel. Pub/sub has no history,
// which matches the fan-out's no-replay contract.
type Redis struct {
	*base
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string, local Broadcaster, opts ...Option) *Redis {
	r := &Redis{
		base:    newBase("redis", local, opts),
		client:  client,
		channel: channel,
	}
	r.start(func(ctx context.Context, payload []byte) error {
		return r.client.Publish(ctx, r.channel, payload).Err()
	})
	return r
}

// Publish broadcasts locally, then queues the event for the other instances.
func (r *Redis) Publish(ctx context.Context, ev realtime.Event) {
	r.local.Broadcast(ctx, ev)
	r.forward(ctx, ev)
}

// Run subscribes to the channel and rebroadcasts remote events until ctx is
// cancelled. go-redis reconnects the subscription on its own.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.InfoContext(ctx, "relay subscribed", "channel", r.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(ctx, []byte(msg.Payload))
		}
	}
}

// Close stops forwarding. The Redis client is owned by the caller.
func (r *Redis) Close() error {
	r.stop()
	return nil
}
