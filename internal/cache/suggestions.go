package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetNewChatSuggestions returns the cached new-chat suggestion blob for a
// user, keyed by the hashed (not plaintext) user id so the key itself
// carries no identifying information (spec §12 supplemented feature,
// grounded on cache_chat_mixin.py's hashed-user-id keying convention used
// for _get_new_chat_suggestions_key).
func (c *Cache) GetNewChatSuggestions(ctx context.Context, userIDHash string) (string, bool, error) {
	raw, err := c.client.Get(ctx, newChatSuggestionsKey(userIDHash)).Result()
	if errors.Is(err, redis.Nil) {
		c.miss("new_chat_suggestions")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get new chat suggestions: %w", err)
	}
	c.hit("new_chat_suggestions")
	return raw, true, nil
}

// SetNewChatSuggestions caches the encrypted suggestions blob produced by a
// worker once a user's chat history changes enough to warrant refreshing it.
func (c *Cache) SetNewChatSuggestions(ctx context.Context, userIDHash, encryptedSuggestions string, ttl time.Duration) error {
	if err := c.client.Set(ctx, newChatSuggestionsKey(userIDHash), encryptedSuggestions, ttl).Err(); err != nil {
		return fmt.Errorf("set new chat suggestions: %w", err)
	}
	return nil
}

// DeleteNewChatSuggestions invalidates the cached suggestions, used when a
// new chat is created and the previous suggestions are now stale.
func (c *Cache) DeleteNewChatSuggestions(ctx context.Context, userIDHash string) error {
	return c.client.Del(ctx, newChatSuggestionsKey(userIDHash)).Err()
}
