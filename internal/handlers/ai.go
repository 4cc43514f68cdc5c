package handlers

import (
	"context"
	"encoding/json"

	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/workerqueue"
	"github.com/openmates/sync-core/internal/wsproto"
)

// handleCancelAITask resolves task_id back to its chat through the
// reverse mapping and revokes the single-flight slot (spec §6). The
// worker's own cancellation is a separate out-of-band signal; see
// aidispatch.Service.Cancel's doc comment.
func handleCancelAITask(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.CancelAITask
	if err := decode(raw, &req); err != nil {
		return err
	}

	chatID, err := hc.Dispatch.Cancel(ctx, req.TaskID)
	if err != nil {
		return err
	}

	broadcastTo(hc, conn.UserID, "", wsproto.TypeAITaskCancelled, struct {
		ChatID string `json:"chat_id"`
		TaskID string `json:"task_id"`
	}{ChatID: chatID, TaskID: req.TaskID})
	return nil
}

// handleAIResponseCompleted persists a client-reported completed AI
// response and replies ai_response_storage_confirmed (spec §6). messages_v
// is always incremented by the cache; Versions is optional and only
// supplies the last-edited timestamp that orders the chat, with the
// message's created_at used when a client omits it.
func handleAIResponseCompleted(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.AIResponseCompleted
	if err := decode(raw, &req); err != nil {
		return err
	}

	msg := domain.Message{
		ID:               req.Message.MessageID,
		ChatID:           req.ChatID,
		Role:             domain.RoleAssistant,
		EncryptedContent: req.Message.EncryptedContent,
		CreatedAt:        req.Message.CreatedAt,
		Status:           domain.StatusSent,
	}

	var lastEdited float64
	if req.Versions != nil {
		lastEdited = float64(req.Versions.LastEditedOverallTimestamp)
	} else {
		lastEdited = float64(req.Message.CreatedAt)
	}

	messagesV, err := hc.Cache.SaveMessage(ctx, conn.UserID, req.ChatID, msg, lastEdited)
	if err != nil {
		return err
	}

	if err := hc.Enqueuer.PersistMessage(ctx, conn.UserID, req.ChatID, workerqueue.PersistMessagePayload{
		MessageID:        req.Message.MessageID,
		Role:             string(domain.RoleAssistant),
		EncryptedContent: req.Message.EncryptedContent,
		CreatedAt:        req.Message.CreatedAt,
		MessagesV:        messagesV,
	}); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to enqueue ai message persistence")
	}

	unicastTo(hc, conn, wsproto.TypeAIResponseStorageConfirmed, struct {
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
		MessagesV int64  `json:"messages_v"`
	}{ChatID: req.ChatID, MessageID: req.Message.MessageID, MessagesV: messagesV})
	return nil
}
