package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openmates/sync-core/internal/aidispatch"
	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/wsproto"
)

// handleAppSettingsMemoriesConfirmed closes out the spec §4.4 suspend/
// resume contract: every confirmed value is re-sealed under the chat's
// vault key before it is cached, since the client hands over its own
// ciphertext but the AI-cache entry must be unwrappable by the worker
// under this core's vault, not the client's.
func handleAppSettingsMemoriesConfirmed(ctx context.Context, hc *Context, conn *connmgr.Connection, raw json.RawMessage) error {
	var req wsproto.AppSettingsMemoriesConfirmed
	if err := decode(raw, &req); err != nil {
		return err
	}

	confirmed := make([]aidispatch.ConfirmedValue, 0, len(req.AppSettingsMemories))
	for _, entry := range req.AppSettingsMemories {
		sealed, err := hc.Vault.Seal(req.ChatID, []byte(entry.EncryptedValue))
		if err != nil {
			return fmt.Errorf("seal confirmed app-settings value: %w", err)
		}
		confirmed = append(confirmed, aidispatch.ConfirmedValue{
			AppID:   entry.AppID,
			ItemKey: entry.ItemKey,
			Value:   string(sealed),
		})
	}

	return hc.Dispatch.Resume(ctx, conn.UserID, req.ChatID, confirmed)
}
