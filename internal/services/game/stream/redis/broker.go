// Package redis provides a Redis-backed Broker so multiple service instances
// can serve subscribers for the same table.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
)

const channelPrefix = "croupier:table:"

// Broker publishes events on per-table Redis channels.
type Broker struct {
	client *redis.Client
}

// New returns a broker using client. The caller owns the client lifecycle
// except that Close closes it.
func New(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Dial connects to a Redis server at addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*Broker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client), nil
}

// Publish implements stream.Broker.
func (b *Broker) Publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+evt.TableID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe implements stream.Broker.
func (b *Broker) Subscribe(ctx context.Context, tableID string) (<-chan event.Event, func(), error) {
	sub := b.client.Subscribe(ctx, channelPrefix+tableID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe table %s: %w", tableID, err)
	}

	out := make(chan event.Event, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt event.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("stream: drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// Close closes the underlying Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}
