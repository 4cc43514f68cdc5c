package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/sync-core/internal/domain"
)

// GetListItemData reads the cached chat-list metadata for a single chat.
// Returns (nil, nil) on a cache miss so callers can fall back to the
// Records Store without treating it as an error.
func (c *Cache) GetListItemData(ctx context.Context, userID, chatID string) (*domain.ListItemData, error) {
	key := listItemDataKey(userID, chatID)
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.miss("list_item_data")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list item data: %w", err)
	}
	c.hit("list_item_data")

	var d domain.ListItemData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("unmarshal list item data: %w", err)
	}
	return &d, nil
}

// SetListItemData writes the chat-list metadata blob, refreshing TTL with
// hot-key boost applied for frequently-read chats (spec §12).
func (c *Cache) SetListItemData(ctx context.Context, userID, chatID string, d domain.ListItemData) error {
	key := listItemDataKey(userID, chatID)
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal list item data: %w", err)
	}
	ttl := c.ttlWithHotBoost(key, c.cfg.ChatListItemDataTTL)
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set list item data: %w", err)
	}
	return nil
}

// DeleteListItemData removes the cached chat-list metadata blob, used by
// delete_chat (spec §6).
func (c *Cache) DeleteListItemData(ctx context.Context, userID, chatID string) error {
	return c.client.Del(ctx, listItemDataKey(userID, chatID)).Err()
}

// BatchGetListItemData fetches several chats' list item data in one round
// trip via MGET, returning only the entries that were present.
func (c *Cache) BatchGetListItemData(ctx context.Context, userID string, chatIDs []string) (map[string]domain.ListItemData, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(chatIDs))
	for i, id := range chatIDs {
		keys[i] = listItemDataKey(userID, id)
	}

	raw, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch get list item data: %w", err)
	}

	out := make(map[string]domain.ListItemData, len(chatIDs))
	for i, v := range raw {
		if v == nil {
			c.miss("list_item_data")
			continue
		}
		c.hit("list_item_data")
		s, ok := v.(string)
		if !ok {
			continue
		}
		var d domain.ListItemData
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			continue
		}
		out[chatIDs[i]] = d
	}
	return out, nil
}
