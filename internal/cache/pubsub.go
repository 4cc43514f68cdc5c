package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publish sends a raw payload on a Redis pub/sub channel. Worker processes
// publish on these same channels; the core is a subscriber-only consumer
// except here, where it occasionally needs to re-announce state (e.g.
// republishing a cache_primed event after a cold reconstruction).
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a *redis.PubSub for the given channel patterns. Callers
// (internal/eventbus) are responsible for draining Channel() and calling
// Close() when done; this method does no buffering of its own so it stays
// a thin wrapper rather than a second event bus implementation.
func (c *Cache) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.client.PSubscribe(ctx, patterns...)
}
