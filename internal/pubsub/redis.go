// Package pubsub relays room events to Redis so other processes can follow
// inventory changes without holding a WebSocket.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/redis/go-redis/v9"
)

func Channel(showtimeID int) string {
	return fmt.Sprintf("inventory:%d", showtimeID)
}

type RedisRelay struct {
	client redis.UniversalClient
}

func NewRedisRelay(client redis.UniversalClient) *RedisRelay {
	return &RedisRelay{client: client}
}

// Publish sends the JSON encoded event to the showtime's channel.
func (r *RedisRelay) Publish(ctx context.Context, showtimeID int, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	err = r.client.Publish(ctx, Channel(showtimeID), payload).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Channel(showtimeID), err)
	}

	return nil
}
