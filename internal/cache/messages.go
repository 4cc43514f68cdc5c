package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/sync-core/internal/domain"
)

// saveMessageScript appends a message to both the AI-inference list and the
// sync-replay list, bumps messages_v, and re-scores the chat in
// chat_ids_versions — all in one round trip, so a reader can never observe
// a bumped version with a message not yet appended or a stale list
// position in chat_ids_versions (spec §4.2 atomicity requirement).
var saveMessageScript = redis.NewScript(`
local ai_key = KEYS[1]
local sync_key = KEYS[2]
local versions_key = KEYS[3]
local ids_versions_key = KEYS[4]

local ai_payload = ARGV[1]
local sync_payload = ARGV[2]
local top_n = tonumber(ARGV[3])
local messages_ttl = tonumber(ARGV[4])
local versions_ttl = tonumber(ARGV[5])
local ids_versions_ttl = tonumber(ARGV[6])
local chat_id = ARGV[7]
local score = tonumber(ARGV[8])

redis.call("RPUSH", ai_key, ai_payload)
redis.call("LTRIM", ai_key, -top_n, -1)
redis.call("EXPIRE", ai_key, messages_ttl)

redis.call("RPUSH", sync_key, sync_payload)
redis.call("LTRIM", sync_key, -top_n, -1)
redis.call("EXPIRE", sync_key, messages_ttl)

local new_version = redis.call("HINCRBY", versions_key, "messages_v", 1)
redis.call("HSETNX", versions_key, "title_v", 0)
redis.call("EXPIRE", versions_key, versions_ttl)

redis.call("ZADD", ids_versions_key, score, chat_id)
redis.call("EXPIRE", ids_versions_key, ids_versions_ttl)

return new_version
`)

// SaveMessage appends msg to the AI and sync message lists and atomically
// bumps messages_v + the chat's chat_ids_versions score to
// lastEditedOverallTimestamp. Returns the new messages_v.
func (c *Cache) SaveMessage(ctx context.Context, userID, chatID string, msg domain.Message, lastEditedOverallTimestamp float64) (int64, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	res, err := saveMessageScript.Run(ctx, c.client, []string{
		aiMessagesKey(userID, chatID),
		syncMessagesKey(userID, chatID),
		chatVersionsKey(userID, chatID),
		chatIDsVersionsKey(userID),
	},
		payload, payload,
		int64(c.cfg.TopNMessagesCount),
		int64(c.cfg.ChatMessagesTTL.Seconds()),
		int64(c.cfg.ChatVersionsTTL.Seconds()),
		int64(c.cfg.ChatIDsVersionsTTL.Seconds()),
		chatID, lastEditedOverallTimestamp,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return res.(int64), nil
}

// GetAIMessages returns the cached AI-inference context, oldest first.
func (c *Cache) GetAIMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	return c.getMessageList(ctx, aiMessagesKey(userID, chatID), "ai_messages")
}

// GetSyncMessages returns the cached phased-sync replay messages, oldest first.
func (c *Cache) GetSyncMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	return c.getMessageList(ctx, syncMessagesKey(userID, chatID), "sync_messages")
}

func (c *Cache) getMessageList(ctx context.Context, key, family string) ([]domain.Message, error) {
	raw, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get message list: %w", err)
	}
	if len(raw) == 0 {
		c.miss(family)
		return nil, nil
	}
	c.hit(family)

	out := make([]domain.Message, 0, len(raw))
	for _, s := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteMessages drops both cached message lists for a chat (delete_chat, spec §6).
func (c *Cache) DeleteMessages(ctx context.Context, userID, chatID string) error {
	return c.client.Del(ctx, aiMessagesKey(userID, chatID), syncMessagesKey(userID, chatID)).Err()
}

// UpdateMessageStatus rewrites a single message's status in-place within
// both lists by scanning for its id; used when a streamed AI message
// transitions from streaming to delivered/synced.
func (c *Cache) UpdateMessageStatus(ctx context.Context, userID, chatID, messageID string, status domain.MessageStatus) error {
	for _, key := range []string{aiMessagesKey(userID, chatID), syncMessagesKey(userID, chatID)} {
		if err := c.updateStatusInList(ctx, key, messageID, status); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) updateStatusInList(ctx context.Context, key, messageID string, status domain.MessageStatus) error {
	raw, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read message list: %w", err)
	}
	for i, s := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		if m.ID != messageID {
			continue
		}
		m.Status = status
		updated, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal updated message: %w", err)
		}
		return c.client.LSet(ctx, key, int64(i), updated).Err()
	}
	return nil
}
