// Package sync implements the Phased Sync Protocol (spec §4.3): the
// delta computation a freshly (re)connected client triggers, and the
// three background phases that progressively warm a user's cache and
// announce readiness over the event bus.
//
// Grounded on chat_repository.go's ListConversations (cursor-ordered,
// cache-aside reads against the same sorted ordering this package walks)
// and on routes/websockets.py's phase_1/phase_2/phase_3 completion-event
// naming convention.
package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/records"
	"github.com/openmates/sync-core/internal/vaultcrypto"
)

// Phase-completion event names published on user_cache_events:{user_id}.
// Open Question 2 (spec §9) leaves the client-facing Phase 2 event name
// ambiguous between two names seen in the source. Only
// EventPhase2Ready20 is defined and published: the phase that computes
// "last 10" fires it per the listener table in spec §4.5, and
// phase_2_last_10_chats_ready is never emitted.
const (
	EventPhase1Ready   = "phase_1_last_chat_ready"
	EventPhase2Ready20 = "phase_2_last_20_chats_ready"
	EventCachePrimed   = "cache_primed"

	Phase1ChatCount   = 1
	Phase2ChatCount   = 10
	Phase3ChatCount   = 100
)

// InitialSyncRequest is what a (re)connecting client sends (spec §4.3).
type InitialSyncRequest struct {
	ChatIDs             []string                 `json:"chat_ids"`
	ChatCount           int                       `json:"chat_count"`
	ChatVersions        map[string]domain.Versions `json:"chat_versions,omitempty"`
	ImmediateViewChatID string                    `json:"immediate_view_chat_id,omitempty"`
	PendingMessageIDs   []string                  `json:"pending_message_ids,omitempty"`
}

// ErrMissingRequiredField is returned when a required field is absent;
// callers must respond with initial_sync_error and make no state changes
// (spec §4.3).
var ErrMissingRequiredField = fmt.Errorf("sync: missing required field")

func (r InitialSyncRequest) validate() error {
	if r.ChatIDs == nil {
		return fmt.Errorf("%w: chat_ids", ErrMissingRequiredField)
	}
	return nil
}

// ChatUpdate is one entry in chats_to_add_or_update.
type ChatUpdate struct {
	ChatID          string  `json:"chat_id"`
	IsNewChat       bool    `json:"is_new_chat"`
	DecryptedTitle  *string `json:"decrypted_title,omitempty"`
	DecryptedDraft  *string `json:"decrypted_draft,omitempty"`
	MessagesV       *int64  `json:"messages_v,omitempty"`
	TitleV          *int64  `json:"title_v,omitempty"`
	DraftV          *int64  `json:"draft_v,omitempty"`
	Messages        []domain.Message `json:"messages,omitempty"`
}

// InitialSyncResponse is the computed delta (spec §4.3 steps 1-4).
type InitialSyncResponse struct {
	ChatIDsToDelete      []string     `json:"chat_ids_to_delete"`
	ChatsToAddOrUpdate   []ChatUpdate `json:"chats_to_add_or_update"`
	ServerChatOrder      []string     `json:"server_chat_order"`
}

// Service computes sync deltas and runs the three background phases.
type Service struct {
	cache   *cache.Cache
	records records.Store
	vault   *vaultcrypto.Service
	logger  *logrus.Logger
}

// New constructs a sync Service.
func New(c *cache.Cache, r records.Store, vault *vaultcrypto.Service, logger *logrus.Logger) *Service {
	return &Service{cache: c, records: r, vault: vault, logger: logger}
}

// decryptForTransport opens a vault-wrapped title/draft field for
// delivery to the owning user's device. Unlike message content, title and
// draft pass through a server-assisted transport re-encryption step (spec
// §4.3's "server-side decrypt for transport... using the per-chat or
// per-user draft key"), so this is the one place the core legitimately
// reads plaintext — it never does so for message content.
func (s *Service) decryptForTransport(chatID string, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	plain, err := s.vault.Open(chatID, []byte(sealed))
	if err != nil {
		return "", fmt.Errorf("decrypt for transport: %w", err)
	}
	return string(plain), nil
}

// ComputeDelta implements spec §4.3 steps 1-4 against the caller's
// reported local state.
func (s *Service) ComputeDelta(ctx context.Context, userID string, req InitialSyncRequest) (*InitialSyncResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	serverEntries, err := s.cache.GetChatIDsVersions(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("load server chat order: %w", err)
	}

	serverSet := make(map[string]struct{}, len(serverEntries))
	serverOrder := make([]string, len(serverEntries))
	for i, e := range serverEntries {
		serverSet[e.ChatID] = struct{}{}
		serverOrder[i] = e.ChatID
	}

	localSet := make(map[string]struct{}, len(req.ChatIDs))
	for _, id := range req.ChatIDs {
		localSet[id] = struct{}{}
	}

	var toDelete []string
	for _, id := range req.ChatIDs {
		if _, ok := serverSet[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}

	var updates []ChatUpdate
	for _, chatID := range serverOrder {
		update, changed, err := s.diffOneChat(ctx, userID, chatID, req, localSet)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"user_id": userID, "chat_id": chatID, "error": err}).
				Warn("skipping unreconstructable chat during sync delta")
			continue
		}
		if changed {
			updates = append(updates, *update)
		}
	}

	return &InitialSyncResponse{
		ChatIDsToDelete:    toDelete,
		ChatsToAddOrUpdate: updates,
		ServerChatOrder:    serverOrder,
	}, nil
}

func (s *Service) diffOneChat(ctx context.Context, userID, chatID string, req InitialSyncRequest, localSet map[string]struct{}) (*ChatUpdate, bool, error) {
	versions, err := s.cache.GetVersions(ctx, userID, chatID)
	if err != nil {
		return nil, false, fmt.Errorf("load versions: %w", err)
	}
	if versions == nil {
		versions, err = s.reconstructVersions(ctx, userID, chatID)
		if err != nil {
			return nil, false, err
		}
	}

	listItem, err := s.cache.GetListItemData(ctx, userID, chatID)
	if err != nil {
		return nil, false, fmt.Errorf("load list item data: %w", err)
	}
	if listItem == nil {
		listItem, err = s.reconstructListItemData(ctx, userID, chatID)
		if err != nil {
			return nil, false, err
		}
	}

	_, known := localSet[chatID]
	if !known {
		return s.newChatUpdate(ctx, userID, chatID, *versions, *listItem, req)
	}

	localVersions, hasLocal := req.ChatVersions[chatID]
	update := ChatUpdate{ChatID: chatID}
	changed := false

	if !hasLocal || localVersions.TitleV != versions.TitleV {
		title, err := s.decryptForTransport(chatID, listItem.EncryptedTitle)
		if err != nil {
			return nil, false, err
		}
		update.DecryptedTitle = &title
		tv := versions.TitleV
		update.TitleV = &tv
		changed = true
	}

	draftField := domain.UserDraftField(userID)
	localDraftV := localVersions.UserDraftVersions[draftField]
	serverDraftV := versions.UserDraftVersions[draftField]
	if !hasLocal || localDraftV != serverDraftV {
		draft, err := s.cache.GetDraft(ctx, userID, chatID)
		if err != nil {
			return nil, false, fmt.Errorf("load draft: %w", err)
		}
		if draft != nil && !draft.IsNull() {
			plain, err := s.decryptForTransport(chatID, draft.EncryptedDraftMD)
			if err != nil {
				return nil, false, err
			}
			update.DecryptedDraft = &plain
		}
		dv := serverDraftV
		update.DraftV = &dv
		changed = true
	}

	if !hasLocal || localVersions.MessagesV != versions.MessagesV {
		mv := versions.MessagesV
		update.MessagesV = &mv
		if chatID == req.ImmediateViewChatID {
			msgs, err := s.cache.GetSyncMessages(ctx, userID, chatID)
			if err != nil {
				return nil, false, fmt.Errorf("load messages: %w", err)
			}
			update.Messages = msgs
		}
		changed = true
	}

	return &update, changed, nil
}

func (s *Service) newChatUpdate(ctx context.Context, userID, chatID string, versions domain.Versions, listItem domain.ListItemData, req InitialSyncRequest) (*ChatUpdate, bool, error) {
	title, err := s.decryptForTransport(chatID, listItem.EncryptedTitle)
	if err != nil {
		return nil, false, err
	}

	update := ChatUpdate{ChatID: chatID, IsNewChat: true, DecryptedTitle: &title}
	mv := versions.MessagesV
	update.MessagesV = &mv
	tv := versions.TitleV
	update.TitleV = &tv

	draft, err := s.cache.GetDraft(ctx, userID, chatID)
	if err != nil {
		return nil, false, fmt.Errorf("load draft: %w", err)
	}
	if draft != nil && !draft.IsNull() {
		plain, err := s.decryptForTransport(chatID, draft.EncryptedDraftMD)
		if err != nil {
			return nil, false, err
		}
		update.DecryptedDraft = &plain
	}

	if chatID == req.ImmediateViewChatID {
		msgs, err := s.cache.GetSyncMessages(ctx, userID, chatID)
		if err != nil {
			return nil, false, fmt.Errorf("load messages: %w", err)
		}
		update.Messages = msgs
	}

	return &update, true, nil
}

// reconstructVersions rebuilds a cache-cold chat's versions hash from the
// Records Store (spec §4.3's lazy reconstruction), warning rather than
// failing the whole sync if the chat cannot be found there either.
func (s *Service) reconstructVersions(ctx context.Context, userID, chatID string) (*domain.Versions, error) {
	chat, err := s.records.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct versions from records: %w", err)
	}
	v := domain.Versions{MessagesV: chat.MessagesV, TitleV: chat.TitleV, UserDraftVersions: map[string]int64{}}
	if err := s.cache.SetVersions(ctx, userID, chatID, v); err != nil {
		s.logger.WithError(err).Warn("failed to warm reconstructed versions into cache")
	}
	return &v, nil
}

// reconstructListItemData rebuilds list_item_data from the Records Store.
// An unreconstructable entry (spec §9 Open Question 1: encrypted_chat_key
// may legitimately be absent) is returned with whatever fields are
// available rather than as an error; the caller logs and continues per
// spec §4.3.
func (s *Service) reconstructListItemData(ctx context.Context, userID, chatID string) (*domain.ListItemData, error) {
	chat, err := s.records.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct list item data from records: %w", err)
	}
	d := domain.ListItemData{
		EncryptedTitle:       chat.EncryptedTitle,
		LastMessageTimestamp: chat.LastEditedOverallTimestamp,
	}
	if err := s.cache.SetListItemData(ctx, userID, chatID, d); err != nil {
		s.logger.WithError(err).Warn("failed to warm reconstructed list item data into cache")
	}
	return &d, nil
}

// BatchFetchResult is the request_chat_content_batch response shape (spec §4.3).
type BatchFetchResult struct {
	MessagesByChatID  map[string][]domain.Message `json:"messages_by_chat_id"`
	VersionsByChatID  map[string]BatchVersionInfo `json:"versions_by_chat_id"`
	PartialError      string                      `json:"partial_error,omitempty"`
}

// BatchVersionInfo carries the masked effective_messages_v (spec §4.3).
type BatchVersionInfo struct {
	MessagesV           int64 `json:"messages_v"`
	ServerMessageCount  int   `json:"server_message_count"`
	EffectiveMessagesV  int64 `json:"effective_messages_v"`
}

// BatchFetch implements request_chat_content_batch, masking the gap
// between a versions hash that has not yet been bumped and a message list
// the Records Store has already caught up on (spec §4.3's
// effective_messages_v = max(versions.messages_v, len(messages))).
func (s *Service) BatchFetch(ctx context.Context, userID string, chatIDs []string) (*BatchFetchResult, error) {
	result := &BatchFetchResult{
		MessagesByChatID: make(map[string][]domain.Message, len(chatIDs)),
		VersionsByChatID: make(map[string]BatchVersionInfo, len(chatIDs)),
	}

	var failures []string
	for _, chatID := range chatIDs {
		msgs, err := s.cache.GetSyncMessages(ctx, userID, chatID)
		if err != nil {
			failures = append(failures, chatID)
			continue
		}
		versions, err := s.cache.GetVersions(ctx, userID, chatID)
		if err != nil {
			failures = append(failures, chatID)
			continue
		}
		var messagesV int64
		if versions != nil {
			messagesV = versions.MessagesV
		}

		effective := messagesV
		if n := int64(len(msgs)); n > effective {
			effective = n
		}

		result.MessagesByChatID[chatID] = msgs
		result.VersionsByChatID[chatID] = BatchVersionInfo{
			MessagesV:          messagesV,
			ServerMessageCount: len(msgs),
			EffectiveMessagesV: effective,
		}
	}

	if len(failures) > 0 {
		raw, _ := json.Marshal(failures)
		result.PartialError = string(raw)
	}

	return result, nil
}
