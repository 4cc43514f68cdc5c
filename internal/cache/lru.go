package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TouchAICache marks chatID as most-recently-used in the user's AI cache
// LRU (a sorted set scored by access time) and returns the chat ids that
// fell outside TopNMessagesCount-derived bound and must be cascade-evicted
// by the caller (spec §4.2 scenario 5: evicting a chat's AI cache entry
// must also drop its embeds and app-settings-memories caches).
func (c *Cache) TouchAICache(ctx context.Context, userID, chatID string, accessedAt float64, maxEntries int64) ([]string, error) {
	key := aiCacheLRUKey(userID)

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: accessedAt, Member: chatID})
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("touch ai cache: %w", err)
	}

	count := countCmd.Val()
	if count <= maxEntries {
		return nil, nil
	}

	overflow := count - maxEntries
	evicted, err := c.client.ZRange(ctx, key, 0, overflow-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list lru overflow: %w", err)
	}
	if len(evicted) == 0 {
		return nil, nil
	}

	if err := c.client.ZRemRangeByRank(ctx, key, 0, overflow-1).Err(); err != nil {
		return nil, fmt.Errorf("trim lru: %w", err)
	}

	for range evicted {
		c.mx.LRUEvictions.Inc()
	}
	return evicted, nil
}

// EvictAICacheEntry cascades an LRU eviction: it drops the chat's AI
// message list, its embed index and every embed it references, and its
// app-settings-memories index and entries. Sync-replay messages and
// list_item_data are left alone — only AI-side caches are bounded by the
// LRU (spec §4.2 scenario 5).
func (c *Cache) EvictAICacheEntry(ctx context.Context, userID, chatID string) error {
	if err := c.client.Del(ctx, aiMessagesKey(userID, chatID)).Err(); err != nil {
		return fmt.Errorf("evict ai messages: %w", err)
	}

	if err := c.evictOrphanEmbeds(ctx, userID, chatID); err != nil {
		return err
	}

	appSettingsMembers, err := c.client.SMembers(ctx, appSettingsMemoryIndexKey(chatID)).Result()
	if err != nil {
		return fmt.Errorf("list app settings memories for eviction: %w", err)
	}
	if len(appSettingsMembers) > 0 {
		keys := []string{appSettingsMemoryIndexKey(chatID)}
		for _, member := range appSettingsMembers {
			appID, itemKey := splitAppSettingsIndexMember(member)
			keys = append(keys, appSettingsMemoryKey(chatID, appID, itemKey))
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("evict app settings memories: %w", err)
		}
	}

	return nil
}

// evictOrphanEmbeds drops chatID's embed index and only the embeds it
// references that no surviving chat in the user's AI cache LRU still
// references — the set difference spec §4.2 requires, so an embed shared
// across chats is not destroyed by the first chat's eviction (spec §8:
// "evicted chats have neither AI list nor orphan embeds").
func (c *Cache) evictOrphanEmbeds(ctx context.Context, userID, chatID string) error {
	evictedKey := embedIDsKey(chatID)
	embedIDs, err := c.client.SMembers(ctx, evictedKey).Result()
	if err != nil {
		return fmt.Errorf("list embeds for eviction: %w", err)
	}
	if len(embedIDs) == 0 {
		return c.client.Del(ctx, evictedKey).Err()
	}

	remainingChats, err := c.client.ZRange(ctx, aiCacheLRUKey(userID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list remaining lru chats: %w", err)
	}

	stillReferenced := make(map[string]struct{})
	for _, otherChat := range remainingChats {
		if otherChat == chatID {
			continue
		}
		others, err := c.client.SMembers(ctx, embedIDsKey(otherChat)).Result()
		if err != nil {
			return fmt.Errorf("list embeds for %s: %w", otherChat, err)
		}
		for _, id := range others {
			stillReferenced[id] = struct{}{}
		}
	}

	keys := make([]string, 0, len(embedIDs)+1)
	keys = append(keys, evictedKey)
	for _, id := range embedIDs {
		if _, ok := stillReferenced[id]; !ok {
			keys = append(keys, embedKey(id))
		}
	}
	return c.client.Del(ctx, keys...).Err()
}

// RemoveFromAICacheLRU drops a chat from the LRU tracking set without
// cascading eviction, used by delete_chat where the cache is already being
// cleared wholesale.
func (c *Cache) RemoveFromAICacheLRU(ctx context.Context, userID, chatID string) error {
	return c.client.ZRem(ctx, aiCacheLRUKey(userID), chatID).Err()
}
