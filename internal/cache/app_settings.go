package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/openmates/sync-core/internal/domain"
)

// appSettingsIndexMember encodes an (appID, itemKey) pair as a single
// sorted-set-free set member so the index can be walked without a
// secondary lookup table.
func appSettingsIndexMember(appID, itemKey string) string {
	return appID + ":" + itemKey
}

func splitAppSettingsIndexMember(member string) (appID, itemKey string) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return member, ""
	}
	return parts[0], parts[1]
}

// GetAppSettingsMemory reads one cached app-settings/memories value
// requested by an AI task (spec §4.4 pending-permission flow).
func (c *Cache) GetAppSettingsMemory(ctx context.Context, chatID, appID, itemKey string) (string, bool, error) {
	raw, err := c.client.Get(ctx, appSettingsMemoryKey(chatID, appID, itemKey)).Result()
	if errors.Is(err, redis.Nil) {
		c.miss("app_settings_memory")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get app settings memory: %w", err)
	}
	c.hit("app_settings_memory")
	return raw, true, nil
}

// SetAppSettingsMemory caches one app-settings/memories value confirmed by
// the user (app_settings_memories_confirmed, spec §6) and records it in the
// chat's index set so it can be cascade-evicted alongside the AI cache LRU.
func (c *Cache) SetAppSettingsMemory(ctx context.Context, chatID, appID, itemKey, value string) error {
	key := appSettingsMemoryKey(chatID, appID, itemKey)
	if err := c.client.Set(ctx, key, value, c.cfg.ChatMessagesTTL).Err(); err != nil {
		return fmt.Errorf("set app settings memory: %w", err)
	}
	member := appSettingsIndexMember(appID, itemKey)
	if err := c.client.SAdd(ctx, appSettingsMemoryIndexKey(chatID), member).Err(); err != nil {
		return fmt.Errorf("index app settings memory: %w", err)
	}
	return nil
}

// SetPendingAppSettingsMemoriesRequest records the outstanding request so a
// later app_settings_memories_confirmed message can resume the suspended
// AI task (spec §4.4).
func (c *Cache) SetPendingAppSettingsMemoriesRequest(ctx context.Context, chatID string, req domain.PendingPermissionRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal pending permission request: %w", err)
	}
	return c.client.Set(ctx, pendingAppSettingsRequestKey(chatID), raw, c.cfg.ChatMessagesTTL).Err()
}

// GetPendingAppSettingsMemoriesRequest reads back the outstanding request,
// or (nil, nil) if none is pending.
func (c *Cache) GetPendingAppSettingsMemoriesRequest(ctx context.Context, chatID string) (*domain.PendingPermissionRequest, error) {
	raw, err := c.client.Get(ctx, pendingAppSettingsRequestKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending permission request: %w", err)
	}
	var req domain.PendingPermissionRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("unmarshal pending permission request: %w", err)
	}
	return &req, nil
}

// DeletePendingAppSettingsMemoriesRequest clears the outstanding request
// once the AI task has resumed or been abandoned.
func (c *Cache) DeletePendingAppSettingsMemoriesRequest(ctx context.Context, chatID string) error {
	return c.client.Del(ctx, pendingAppSettingsRequestKey(chatID)).Err()
}
