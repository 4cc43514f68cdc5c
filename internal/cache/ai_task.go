package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// QueuedTurn is one user message waiting behind an already-active AI task
// for the same chat (spec §4's single-flight-per-chat rule).
type QueuedTurn struct {
	MessageID        string `json:"message_id"`
	EncryptedContent string `json:"encrypted_content"`
	QueuedAt         int64  `json:"queued_at"`
}

// acquireActiveTaskScript sets chat:{id}:active_ai_task only if unset, and
// writes the reverse mapping active_task:{task_id}:chat_id in the same
// round trip, so cancel-by-task-id never races a task that just finished
// (spec §4.3's single-flight-per-chat + cancellation contract).
var acquireActiveTaskScript = redis.NewScript(`
local active_key = KEYS[1]
local reverse_key = KEYS[2]
local task_id = ARGV[1]
local chat_id = ARGV[2]
local ttl = tonumber(ARGV[3])

local ok = redis.call("SET", active_key, task_id, "NX", "EX", ttl)
if not ok then
	return 0
end
redis.call("SET", reverse_key, chat_id, "EX", ttl)
return 1
`)

// TryAcquireActiveTask attempts to mark taskID as the single active AI
// task for chatID. Returns false if a task is already active.
func (c *Cache) TryAcquireActiveTask(ctx context.Context, chatID, taskID string, ttl int64) (bool, error) {
	res, err := acquireActiveTaskScript.Run(ctx, c.client,
		[]string{activeAITaskKey(chatID), activeTaskChatKey(taskID)},
		taskID, chatID, ttl,
	).Result()
	if err != nil {
		return false, fmt.Errorf("acquire active task: %w", err)
	}
	return res.(int64) == 1, nil
}

// GetActiveTask returns the task id currently active for a chat, or ("", false).
func (c *Cache) GetActiveTask(ctx context.Context, chatID string) (string, bool, error) {
	taskID, err := c.client.Get(ctx, activeAITaskKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get active task: %w", err)
	}
	return taskID, true, nil
}

// GetChatForTask resolves a task id back to its chat id (used by
// cancel_ai_task, spec §6, when the client only has the task id).
func (c *Cache) GetChatForTask(ctx context.Context, taskID string) (string, bool, error) {
	chatID, err := c.client.Get(ctx, activeTaskChatKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get chat for task: %w", err)
	}
	return chatID, true, nil
}

// ReleaseActiveTask clears both the forward and reverse active-task
// mappings once an AI task completes, errors, or is cancelled.
func (c *Cache) ReleaseActiveTask(ctx context.Context, chatID, taskID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, activeAITaskKey(chatID))
	pipe.Del(ctx, activeTaskChatKey(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release active task: %w", err)
	}
	return nil
}

// EnqueueTurn appends a user turn to the chat's queue, used when the user
// sends another message while an AI task is already active for that chat.
func (c *Cache) EnqueueTurn(ctx context.Context, chatID string, turn QueuedTurn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal queued turn: %w", err)
	}
	if err := c.client.RPush(ctx, messageQueueKey(chatID), raw).Err(); err != nil {
		return fmt.Errorf("enqueue turn: %w", err)
	}
	return nil
}

// DequeueTurn pops the oldest queued turn for a chat, or (nil, nil) if the
// queue is empty. Called once the previously-active task releases.
func (c *Cache) DequeueTurn(ctx context.Context, chatID string) (*QueuedTurn, error) {
	raw, err := c.client.LPop(ctx, messageQueueKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue turn: %w", err)
	}
	var turn QueuedTurn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		return nil, fmt.Errorf("unmarshal queued turn: %w", err)
	}
	return &turn, nil
}

// QueueLength reports how many turns are waiting behind the active task.
func (c *Cache) QueueLength(ctx context.Context, chatID string) (int64, error) {
	n, err := c.client.LLen(ctx, messageQueueKey(chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// ClearQueue drops every queued turn for a chat, used on delete_chat and on
// an explicit cancel_ai_task that also discards what was waiting behind it.
func (c *Cache) ClearQueue(ctx context.Context, chatID string) error {
	return c.client.Del(ctx, messageQueueKey(chatID)).Err()
}
