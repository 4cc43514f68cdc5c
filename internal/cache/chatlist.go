package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChatIDsVersions is one member of a user's chat_ids_versions sorted set:
// the chat id plus the score it was stored under (last-edited-overall
// timestamp). Grounded on cache_chat_mixin.py's get_chat_ids_versions,
// which returns ZRANGE WITHSCORES pairs.
type ChatIDsVersions struct {
	ChatID string
	Score  float64
}

// AddChatToIDsVersions adds or updates a chat's entry in a user's
// chat_ids_versions sorted set, refreshing the key's TTL. Grounded on
// cache_chat_mixin.py's add_chat_to_ids_versions.
func (c *Cache) AddChatToIDsVersions(ctx context.Context, userID, chatID string, score float64) error {
	key := chatIDsVersionsKey(userID)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: chatID})
	pipe.Expire(ctx, key, c.ttlWithHotBoost(key, c.cfg.ChatIDsVersionsTTL))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("add chat to ids versions: %w", err)
	}
	return nil
}

// RemoveChatFromIDsVersions removes a chat's entry from the sorted set
// (used by delete_chat, spec §6).
func (c *Cache) RemoveChatFromIDsVersions(ctx context.Context, userID, chatID string) error {
	key := chatIDsVersionsKey(userID)
	if err := c.client.ZRem(ctx, key, chatID).Err(); err != nil {
		return fmt.Errorf("remove chat from ids versions: %w", err)
	}
	return nil
}

// GetChatIDsVersions returns chats ordered newest-edited-first, bounded by
// count (0 means unbounded). Grounded on cache_chat_mixin.py's
// get_chat_ids_versions (ZREVRANGE WITHSCORES).
func (c *Cache) GetChatIDsVersions(ctx context.Context, userID string, count int64) ([]ChatIDsVersions, error) {
	key := chatIDsVersionsKey(userID)
	stop := int64(-1)
	if count > 0 {
		stop = count - 1
	}
	raw, err := c.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("get chat ids versions: %w", err)
	}
	if len(raw) == 0 {
		c.miss("chat_ids_versions")
		return nil, nil
	}
	c.hit("chat_ids_versions")

	out := make([]ChatIDsVersions, len(raw))
	for i, z := range raw {
		out[i] = ChatIDsVersions{ChatID: z.Member.(string), Score: z.Score}
	}
	return out, nil
}

// UpdateChatScoreInIDsVersions re-scores a chat without touching any other
// cached data, used whenever last_edited_overall_timestamp changes but the
// chat's other cache entries are still valid (grounded on
// cache_chat_mixin.py's update_chat_score_in_ids_versions).
func (c *Cache) UpdateChatScoreInIDsVersions(ctx context.Context, userID, chatID string, score float64) error {
	key := chatIDsVersionsKey(userID)
	_, err := c.client.ZScore(ctx, key, chatID).Result()
	if err == redis.Nil {
		return nil // nothing to update; caller is not required to have primed the set
	}
	if err != nil {
		return fmt.Errorf("check chat score: %w", err)
	}
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: chatID}).Err()
}

// GetChatLastEditedOverallTimestamp returns the score stored for a single
// chat, or (0, false) if the chat is not present in the set.
func (c *Cache) GetChatLastEditedOverallTimestamp(ctx context.Context, userID, chatID string) (float64, bool, error) {
	key := chatIDsVersionsKey(userID)
	score, err := c.client.ZScore(ctx, key, chatID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get chat last edited timestamp: %w", err)
	}
	return score, true, nil
}

// ChatExistsForUser reports whether chatID is a member of the user's
// chat_ids_versions set (grounded on check_chat_exists_for_user).
func (c *Cache) ChatExistsForUser(ctx context.Context, userID, chatID string) (bool, error) {
	key := chatIDsVersionsKey(userID)
	_, err := c.client.ZScore(ctx, key, chatID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check chat exists: %w", err)
	}
	return true, nil
}

// CountChatsForUser returns the total number of chats tracked for a user.
func (c *Cache) CountChatsForUser(ctx context.Context, userID string) (int64, error) {
	n, err := c.client.ZCard(ctx, chatIDsVersionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count chats for user: %w", err)
	}
	return n, nil
}
