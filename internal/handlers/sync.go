package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/domain"
	syncpkg "github.com/openmates/sync-core/internal/sync"
	"github.com/openmates/sync-core/internal/wsproto"
)

// handleInitialSyncRequest runs the spec §4.3 delta computation and
// replies with initial_sync_response, or initial_sync_error on a missing
// required field without touching any state.
func handleInitialSyncRequest(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.InitialSyncRequest
	if err := decode(raw, &req); err != nil {
		return err
	}

	versions := make(map[string]domain.Versions, len(req.ChatVersions))
	for chatID, v := range req.ChatVersions {
		if m, ok := v.(map[string]interface{}); ok {
			versions[chatID] = decodeVersionsMap(m)
		}
	}

	svcReq := syncpkg.InitialSyncRequest{
		ChatIDs:             req.ChatIDs,
		ChatCount:           req.ChatCount,
		ChatVersions:        versions,
		ImmediateViewChatID: req.ImmediateViewChatID,
		PendingMessageIDs:   req.PendingMessageIDs,
	}

	resp, err := hc.Sync.ComputeDelta(ctx, conn.UserID, svcReq)
	if err != nil {
		unicastTo(hc, conn, wsproto.TypeInitialSyncError, wsproto.BadRequest{Reason: err.Error()})
		return nil
	}

	unicastTo(hc, conn, wsproto.TypeInitialSyncResponse, resp)
	return nil
}

func decodeVersionsMap(m map[string]interface{}) domain.Versions {
	v := domain.Versions{UserDraftVersions: map[string]int64{}}
	for k, raw := range m {
		n, ok := raw.(float64)
		if !ok {
			continue
		}
		switch k {
		case "messages_v":
			v.MessagesV = int64(n)
		case "title_v":
			v.TitleV = int64(n)
		default:
			v.UserDraftVersions[k] = int64(n)
		}
	}
	return v
}

// handlePhasedSyncRequest runs one or all background sync phases and
// streams their completion events over user_cache_events (spec §4.3);
// nothing is sent back on the websocket by this handler itself.
func handlePhasedSyncRequest(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.PhasedSyncRequest
	if err := decode(raw, &req); err != nil {
		return err
	}

	phase := syncpkg.Phase(req.Phase)
	go func() {
		if err := hc.Sync.RunPhase(context.Background(), conn.UserID, phase); err != nil {
			hc.Logger.WithField("user_id", conn.UserID).WithError(err).Warn("phased sync failed")
		}
	}()
	return nil
}

// handleSyncStatusRequest answers with whether the cache has been primed
// and how many chats the user currently has (spec §6).
func handleSyncStatusRequest(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	count, err := hc.Cache.CountChatsForUser(ctx, conn.UserID)
	if err != nil {
		return err
	}

	unicastTo(hc, conn, wsproto.TypeSyncStatusResponse, struct {
		Primed    bool  `json:"primed"`
		ChatCount int64 `json:"chat_count"`
	}{Primed: count > 0, ChatCount: count})
	return nil
}

// handleSetActiveChat updates this device's active-chat tracking (spec
// §6), which gates the streaming fan-out in internal/eventbus, and the
// user's last-opened chat for phase 1 of the next sync.
func handleSetActiveChat(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.SetActiveChat
	if err := decode(raw, &req); err != nil {
		return err
	}

	chatID := ""
	if req.ChatID != nil {
		chatID = *req.ChatID
	}
	hc.Conns.SetActiveChat(conn.UserID, conn.DeviceFP, chatID)

	if chatID != "" {
		if err := hc.Cache.UpdateChatScoreInIDsVersions(ctx, conn.UserID, chatID, float64(time.Now().Unix())); err != nil {
			hc.Logger.WithField("chat_id", chatID).WithError(err).Warn("failed to bump last-opened score")
		}
	}
	return nil
}

// handleScrollPositionUpdate updates the per-chat scroll anchor field in
// list_item_data (spec §6); it is best-effort UI state, not versioned.
func handleScrollPositionUpdate(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.ScrollPositionUpdate
	if err := decode(raw, &req); err != nil {
		return err
	}

	item, err := hc.Cache.GetListItemData(ctx, conn.UserID, req.ChatID)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	item.ScrollAnchorMessageID = req.MessageID
	return hc.Cache.SetListItemData(ctx, conn.UserID, req.ChatID, *item)
}

// handleChatReadStatusUpdate updates the unread count in the cached
// list_item_data (spec §6). The value is not enqueued for durable storage
// or written to the Records store, and a chat with no cached
// list_item_data is left unchanged.
func handleChatReadStatusUpdate(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.ChatReadStatusUpdate
	if err := decode(raw, &req); err != nil {
		return err
	}

	item, err := hc.Cache.GetListItemData(ctx, conn.UserID, req.ChatID)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	item.UnreadCount = req.UnreadCount
	return hc.Cache.SetListItemData(ctx, conn.UserID, req.ChatID, *item)
}
