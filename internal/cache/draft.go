package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/sync-core/internal/domain"
)

// incrDraftScript bumps a user's draft version in both the dedicated draft
// key and the chat's general versions hash in one round trip, so a reader
// that only has the general hash (because the dedicated key expired
// earlier, per TTL policy) still sees the authoritative version. Grounded
// on cache_chat_mixin.py's increment_user_draft_version, which explicitly
// tolerates the dedicated key's independent expiry.
var incrDraftScript = redis.NewScript(`
local draft_key = KEYS[1]
local versions_key = KEYS[2]
local field = ARGV[1]
local draft_ttl = tonumber(ARGV[2])
local versions_ttl = tonumber(ARGV[3])

local new_version = redis.call("HINCRBY", versions_key, field, 1)
redis.call("HSETNX", versions_key, "messages_v", 0)
redis.call("HSETNX", versions_key, "title_v", 0)
redis.call("EXPIRE", versions_key, versions_ttl)

redis.call("HSET", draft_key, "draft_v", new_version)
redis.call("EXPIRE", draft_key, draft_ttl)

return new_version
`)

// GetDraft reads a user's draft for a chat. Returns (nil, nil) on a miss.
func (c *Cache) GetDraft(ctx context.Context, userID, chatID string) (*domain.Draft, error) {
	key := userDraftKey(userID, chatID)
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if len(raw) == 0 {
		c.miss("draft")
		return nil, nil
	}
	c.hit("draft")

	d := &domain.Draft{EncryptedDraftMD: raw["encrypted_draft_md"]}
	fmt.Sscanf(raw["draft_v"], "%d", &d.DraftV)
	return d, nil
}

// SetDraft writes a user's draft content (or the "null" sentinel for an
// explicit clear) and bumps both the dedicated draft key and the chat's
// general versions hash atomically.
func (c *Cache) SetDraft(ctx context.Context, userID, chatID, encryptedDraftMD string) (int64, error) {
	draftKey := userDraftKey(userID, chatID)
	versionsKey := chatVersionsKey(userID, chatID)
	field := domain.UserDraftField(userID)

	if err := c.client.HSet(ctx, draftKey, "encrypted_draft_md", encryptedDraftMD).Err(); err != nil {
		return 0, fmt.Errorf("set draft content: %w", err)
	}

	res, err := incrDraftScript.Run(ctx, c.client, []string{draftKey, versionsKey},
		field, int64(c.cfg.UserDraftTTL.Seconds()), int64(c.cfg.ChatVersionsTTL.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("increment draft version: %w", err)
	}
	return res.(int64), nil
}

// DeleteDraft removes a user's draft entirely (delete_draft, spec §6). The
// dedicated draft key is deleted; the general versions hash field is left
// to DeleteUserDraftVersionField since callers may want to bump instead of
// clear it depending on whether a tombstone version is still expected.
func (c *Cache) DeleteDraft(ctx context.Context, userID, chatID string) error {
	if err := c.client.Del(ctx, userDraftKey(userID, chatID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// GetDraftVersion reads just the draft version, falling back to the
// general versions hash when the dedicated draft key has expired — the
// resilience behavior increment_user_draft_version is designed around.
func (c *Cache) GetDraftVersion(ctx context.Context, userID, chatID string) (int64, error) {
	draftKey := userDraftKey(userID, chatID)
	v, err := c.client.HGet(ctx, draftKey, "draft_v").Result()
	if err == nil {
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get draft version: %w", err)
	}

	versionsKey := chatVersionsKey(userID, chatID)
	v, err = c.client.HGet(ctx, versionsKey, domain.UserDraftField(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get draft version from general hash: %w", err)
	}
	var n int64
	fmt.Sscanf(v, "%d", &n)
	return n, nil
}
