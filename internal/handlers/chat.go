package handlers

import (
	"context"
	"encoding/json"

	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/workerqueue"
	"github.com/openmates/sync-core/internal/wsproto"
)

// handleUpdateDraft stores the draft ciphertext, bumps the sending
// user's draft version, and broadcasts the update to every other device
// of the same user (spec §6).
func handleUpdateDraft(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.UpdateDraft
	if err := decode(raw, &req); err != nil {
		return err
	}

	draftV, err := hc.Cache.SetDraft(ctx, conn.UserID, req.ChatID, req.EncryptedDraftMD)
	if err != nil {
		return err
	}

	broadcastTo(hc, conn.UserID, conn.DeviceFP, wsproto.TypeDraftUpdated, struct {
		ChatID           string `json:"chat_id"`
		EncryptedDraftMD string `json:"encrypted_draft_md,omitempty"`
		DraftV           int64  `json:"draft_v"`
	}{ChatID: req.ChatID, EncryptedDraftMD: req.EncryptedDraftMD, DraftV: draftV})
	return nil
}

// handleUpdateTitle bumps title_v, broadcasts to siblings, and enqueues
// durable persistence via the Worker Runner (spec §6).
func handleUpdateTitle(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.UpdateTitle
	if err := decode(raw, &req); err != nil {
		return err
	}

	titleV, err := hc.Cache.IncrementComponentVersion(ctx, conn.UserID, req.ChatID, "title_v", 1)
	if err != nil {
		return err
	}

	item, err := hc.Cache.GetListItemData(ctx, conn.UserID, req.ChatID)
	if err != nil {
		return err
	}
	if item != nil {
		item.EncryptedTitle = req.EncryptedTitle
		if err := hc.Cache.SetListItemData(ctx, conn.UserID, req.ChatID, *item); err != nil {
			return err
		}
	}

	if err := hc.Enqueuer.PersistTitle(ctx, conn.UserID, req.ChatID, workerqueue.PersistTitlePayload{
		EncryptedTitle: req.EncryptedTitle,
		TitleV:         titleV,
	}); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to enqueue title persistence")
	}

	broadcastTo(hc, conn.UserID, conn.DeviceFP, wsproto.TypeTitleUpdated, struct {
		ChatID         string `json:"chat_id"`
		EncryptedTitle string `json:"encrypted_title"`
		TitleV         int64  `json:"title_v"`
	}{ChatID: req.ChatID, EncryptedTitle: req.EncryptedTitle, TitleV: titleV})
	return nil
}

// handleChatMessageAdded saves the message into both the AI and sync
// message lists, bumps messages_v, updates the chat's ordering score, and
// rebroadcasts to siblings (spec §4.2/§6). It also enqueues durable
// persistence since the cache lists are TTL-bound.
func handleChatMessageAdded(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.ChatMessageAdded
	if err := decode(raw, &req); err != nil {
		return err
	}

	msg := domain.Message{
		ID:               req.MessageID,
		ChatID:           req.ChatID,
		Role:             domain.RoleUser,
		EncryptedContent: req.EncryptedContent,
		EncryptedSender:  req.EncryptedSender,
		CreatedAt:        req.CreatedAt,
		Status:           domain.StatusSent,
	}

	messagesV, err := hc.Cache.SaveMessage(ctx, conn.UserID, req.ChatID, msg, float64(req.CreatedAt))
	if err != nil {
		return err
	}

	if err := hc.Enqueuer.PersistMessage(ctx, conn.UserID, req.ChatID, workerqueue.PersistMessagePayload{
		MessageID:        req.MessageID,
		Role:             string(domain.RoleUser),
		EncryptedContent: req.EncryptedContent,
		EncryptedSender:  req.EncryptedSender,
		CreatedAt:        req.CreatedAt,
		MessagesV:        messagesV,
	}); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to enqueue message persistence")
	}

	broadcastTo(hc, conn.UserID, conn.DeviceFP, wsproto.TypeChatMessageAdded, struct {
		ChatID           string `json:"chat_id"`
		MessageID        string `json:"message_id"`
		EncryptedContent string `json:"encrypted_content"`
		MessagesV        int64  `json:"messages_v"`
	}{ChatID: req.ChatID, MessageID: req.MessageID, EncryptedContent: req.EncryptedContent, MessagesV: messagesV})
	return nil
}

// handleDeleteChat tombstones the cache entry, enqueues the durable
// delete, and broadcasts chat_deleted to every device (spec §6).
func handleDeleteChat(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.DeleteChat
	if err := decode(raw, &req); err != nil {
		return err
	}

	if err := hc.Cache.RemoveChatFromIDsVersions(ctx, conn.UserID, req.ChatID); err != nil {
		return err
	}
	if err := hc.Cache.DeleteVersions(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to clear versions on delete")
	}
	if err := hc.Cache.DeleteListItemData(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to clear list item data on delete")
	}
	if err := hc.Cache.DeleteMessages(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to clear messages on delete")
	}
	if err := hc.Cache.RemoveFromAICacheLRU(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to drop chat from ai cache lru on delete")
	}
	if err := hc.Cache.ClearQueue(ctx, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to clear queued turns on delete")
	}

	if err := hc.Enqueuer.TombstoneChat(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to enqueue chat tombstone")
	}

	broadcastTo(hc, conn.UserID, "", wsproto.TypeChatDeleted, struct {
		ChatID string `json:"chat_id"`
	}{ChatID: req.ChatID})
	return nil
}

// handleDeleteDraft removes the dedicated draft key and the draft version
// field, but always replies draft_deleted regardless of whether a draft
// was present (spec §8's "delete_draft leaves neither the dedicated draft
// key nor the hash field set, by design").
func handleDeleteDraft(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.DeleteDraft
	if err := decode(raw, &req); err != nil {
		return err
	}

	if err := hc.Cache.DeleteDraft(ctx, conn.UserID, req.ChatID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to delete draft key")
	}
	if err := hc.Cache.DeleteUserDraftVersionField(ctx, conn.UserID, req.ChatID, conn.UserID); err != nil {
		hc.Logger.WithField("chat_id", req.ChatID).WithError(err).Warn("failed to delete draft version field")
	}

	broadcastTo(hc, conn.UserID, "", wsproto.TypeDraftDeleted, struct {
		ChatID string `json:"chat_id"`
	}{ChatID: req.ChatID})
	return nil
}

// handleGetChatMessages returns the sync message list for one chat (spec §6).
func handleGetChatMessages(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.GetChatMessages
	if err := decode(raw, &req); err != nil {
		return err
	}

	msgs, err := hc.Cache.GetSyncMessages(ctx, conn.UserID, req.ChatID)
	if err != nil {
		return err
	}

	unicastTo(hc, conn, wsproto.TypeChatMessagesResponse, struct {
		ChatID   string           `json:"chat_id"`
		Messages []domain.Message `json:"messages"`
	}{ChatID: req.ChatID, Messages: msgs})
	return nil
}

// handleRequestChatContentBatch implements the effective_messages_v
// masking contract (spec §4.3) for a set of chats at once.
func handleRequestChatContentBatch(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.RequestChatContentBatch
	if err := decode(raw, &req); err != nil {
		return err
	}

	result, err := hc.Sync.BatchFetch(ctx, conn.UserID, req.ChatIDs)
	if err != nil {
		return err
	}

	unicastTo(hc, conn, wsproto.TypeChatContentBatchResponse, result)
	return nil
}

// handleEncryptedChatMetadata persists whichever optional metadata fields
// are present and broadcasts only when encrypted_chat_key itself changed
// (spec §6 "broadcasts on encrypted_chat_key change").
func handleEncryptedChatMetadata(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.EncryptedChatMetadata
	if err := decode(raw, &req); err != nil {
		return err
	}

	item, err := hc.Cache.GetListItemData(ctx, conn.UserID, req.ChatID)
	if err != nil {
		return err
	}
	if item == nil {
		item = &domain.ListItemData{}
	}

	keyChanged := req.EncryptedChatKey != "" && req.EncryptedChatKey != item.EncryptedChatKey
	if req.EncryptedIcon != "" {
		item.EncryptedIcon = req.EncryptedIcon
	}
	if req.EncryptedCategory != "" {
		item.EncryptedCategory = req.EncryptedCategory
	}
	if req.EncryptedTags != "" {
		item.EncryptedTags = req.EncryptedTags
	}
	if req.EncryptedChatKey != "" {
		item.EncryptedChatKey = req.EncryptedChatKey
	}
	if req.EncryptedActiveFocusID != "" {
		item.EncryptedActiveFocusID = req.EncryptedActiveFocusID
	}
	item.LastMessageTimestamp = req.Versions.LastEditedOverallTimestamp

	if err := hc.Cache.SetListItemData(ctx, conn.UserID, req.ChatID, *item); err != nil {
		return err
	}

	if keyChanged {
		broadcastTo(hc, conn.UserID, conn.DeviceFP, wsproto.TypeEncryptedChatMetadata, req)
	}
	return nil
}

// handleUpdatePostProcessingMetadata enqueues whichever optional
// post-processing fields are present; none of it is synchronous cache
// state (spec §6).
func handleUpdatePostProcessingMetadata(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.UpdatePostProcessingMetadata
	if err := decode(raw, &req); err != nil {
		return err
	}

	payload := workerqueue.PersistPostProcessingMetadataPayload{
		MessageID:         req.MessageID,
		EncryptedMetadata: marshalMetadata(req),
	}
	return hc.Enqueuer.PersistPostProcessingMetadata(ctx, conn.UserID, req.ChatID, payload)
}

func marshalMetadata(req wsproto.UpdatePostProcessingMetadata) string {
	raw, err := json.Marshal(struct {
		EncryptedFollowUpSuggestions string   `json:"encrypted_follow_up_suggestions,omitempty"`
		EncryptedNewChatSuggestions  []string `json:"encrypted_new_chat_suggestions,omitempty"`
		EncryptedChatSummary         string   `json:"encrypted_chat_summary,omitempty"`
		EncryptedChatTags            string   `json:"encrypted_chat_tags,omitempty"`
	}{
		EncryptedFollowUpSuggestions: req.EncryptedFollowUpSuggestions,
		EncryptedNewChatSuggestions:  req.EncryptedNewChatSuggestions,
		EncryptedChatSummary:         req.EncryptedChatSummary,
		EncryptedChatTags:            req.EncryptedChatTags,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}
