package events

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Subscriber follows the action feed published by redisPublisher
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber creates a subscriber on channel
func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	return &Subscriber{client: client, channel: channel}
}

// Subscribe delivers raw event payloads until ctx is done. The returned
// channel is closed when the subscription ends.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
