package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AddEmbed caches a vault-encrypted embed's ciphertext and references it
// from the owning chat's embed index set (spec §3's server-cached
// auxiliary content, reference-counted per chat).
func (c *Cache) AddEmbed(ctx context.Context, chatID, embedID string, vaultCiphertext []byte) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, embedKey(embedID), vaultCiphertext, c.cfg.ChatMessagesTTL)
	pipe.SAdd(ctx, embedIDsKey(chatID), embedID)
	pipe.Expire(ctx, embedIDsKey(chatID), c.cfg.ChatMessagesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add embed: %w", err)
	}
	return nil
}

// GetEmbed returns an embed's vault ciphertext, or (nil, false) on a miss.
func (c *Cache) GetEmbed(ctx context.Context, embedID string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, embedKey(embedID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.miss("embed")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embed: %w", err)
	}
	c.hit("embed")
	return raw, true, nil
}

// ListEmbedIDs returns every embed id referenced by a chat.
func (c *Cache) ListEmbedIDs(ctx context.Context, chatID string) ([]string, error) {
	ids, err := c.client.SMembers(ctx, embedIDsKey(chatID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list embed ids: %w", err)
	}
	return ids, nil
}
