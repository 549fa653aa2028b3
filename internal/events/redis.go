package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "advisorcrm:"

// RedisBus publishes change events over Redis pub/sub so every server
// instance can feed its own subscribers.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

func channelName(collection string) string {
	return channelPrefix + collection
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(ev.Collection), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, channelName(collection))

	// Wait for the subscription to be confirmed before handing out the channel
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("[EVENTS] bad payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- ev:
				default:
					log.Printf("[EVENTS] dropping %s event for slow subscriber", collection)
				}
			}
		}
	}()

	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
