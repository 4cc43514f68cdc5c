package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/sync-core/internal/domain"
)

// incrComponentScript increments a versions-hash field atomically, ensures
// messages_v/title_v exist (so CachedChatVersions-equivalent reads never
// see partial hashes), and refreshes the key's TTL in one round trip.
// Grounded on cache_chat_mixin.py's increment_chat_component_version
// (HINCRBY + two HSETNX + EXPIRE), made atomic here via scripting rather
// than four sequential awaits.
var incrComponentScript = redis.NewScript(`
local key = KEYS[1]
local component = ARGV[1]
local increment_by = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local new_version = redis.call("HINCRBY", key, component, increment_by)
redis.call("HSETNX", key, "messages_v", 0)
redis.call("HSETNX", key, "title_v", 0)
redis.call("EXPIRE", key, ttl)
return new_version
`)

// setComponentScript sets a versions-hash field to an absolute value,
// rejecting a regression (spec §8 "an explicit set to a lower value is
// rejected by tests"). Returns 1 on success, 0 if the new value was not
// strictly greater than the current one.
var setComponentScript = redis.NewScript(`
local key = KEYS[1]
local component = ARGV[1]
local value = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = redis.call("HGET", key, component)
if current and tonumber(current) >= value then
	return 0
end

redis.call("HSET", key, component, value)
redis.call("HSETNX", key, "messages_v", 0)
redis.call("HSETNX", key, "title_v", 0)
redis.call("EXPIRE", key, ttl)
return 1
`)

// IncrementComponentVersion increments a specific component version
// (messages_v, title_v, or the dynamic user_draft_v:{user_id}) and returns
// the new value. Component is caller-supplied so callers never construct
// the wrong key shape.
func (c *Cache) IncrementComponentVersion(ctx context.Context, userID, chatID, component string, by int64) (int64, error) {
	key := chatVersionsKey(userID, chatID)
	ttl := int64(c.cfg.ChatVersionsTTL.Seconds())
	res, err := incrComponentScript.Run(ctx, c.client, []string{key}, component, by, ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("incr component version: %w", err)
	}
	return res.(int64), nil
}

// SetComponentVersion sets a component version to an absolute value,
// rejecting any value that does not strictly increase on the prior one
// (spec §8 version monotonicity).
func (c *Cache) SetComponentVersion(ctx context.Context, userID, chatID, component string, value int64) error {
	key := chatVersionsKey(userID, chatID)
	ttl := int64(c.cfg.ChatVersionsTTL.Seconds())
	res, err := setComponentScript.Run(ctx, c.client, []string{key}, component, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("set component version: %w", err)
	}
	if res.(int64) == 0 {
		return domain.ErrVersionRegressed
	}
	return nil
}

// GetVersions reads the full versions hash for a chat.
func (c *Cache) GetVersions(ctx context.Context, userID, chatID string) (*domain.Versions, error) {
	key := chatVersionsKey(userID, chatID)
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	if len(raw) == 0 {
		c.miss("chat_versions")
		return nil, nil
	}
	c.hit("chat_versions")

	v := &domain.Versions{UserDraftVersions: map[string]int64{}}
	for field, val := range raw {
		var n int64
		fmt.Sscanf(val, "%d", &n)
		switch field {
		case "messages_v":
			v.MessagesV = n
		case "title_v":
			v.TitleV = n
		default:
			v.UserDraftVersions[field] = n
		}
	}
	return v, nil
}

// SetVersions writes the full versions hash (used when reconstructing a
// cache-cold chat from the Records Store, spec §4.3).
func (c *Cache) SetVersions(ctx context.Context, userID, chatID string, v domain.Versions) error {
	key := chatVersionsKey(userID, chatID)
	data := map[string]interface{}{
		"messages_v": v.MessagesV,
		"title_v":    v.TitleV,
	}
	for field, val := range v.UserDraftVersions {
		data[field] = val
	}
	if err := c.client.HSet(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("set versions: %w", err)
	}
	return c.client.Expire(ctx, key, c.ttlWithHotBoost(key, c.cfg.ChatVersionsTTL)).Err()
}

// DeleteVersions removes the entire versions hash for a chat.
func (c *Cache) DeleteVersions(ctx context.Context, userID, chatID string) error {
	return c.client.Del(ctx, chatVersionsKey(userID, chatID)).Err()
}

// DeleteUserDraftVersionField removes only the dynamic user_draft_v:{uid}
// field, used by delete_draft (spec §6) without touching messages_v/title_v.
func (c *Cache) DeleteUserDraftVersionField(ctx context.Context, userID, chatID, forUserID string) error {
	key := chatVersionsKey(userID, chatID)
	return c.client.HDel(ctx, key, domain.UserDraftField(forUserID)).Err()
}
