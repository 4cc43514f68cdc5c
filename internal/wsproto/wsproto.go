// Package wsproto defines the websocket wire envelope and the tagged
// variant for each inbound message type (spec §6, and spec §9's
// re-architecture note "dict-shaped payloads map to tagged variants").
// The payload is unmarshalled only after the type tag has selected which
// struct to decode it into (handlers.Route does this); an unknown type is
// a bad request, never a silent no-op.
//
// Grounded on websocket_handler.go's Message{Type, ...} envelope,
// generalized from one flat struct into Envelope + per-type payload
// structs so each handler only sees the fields its message type defines.
package wsproto

import (
	"encoding/json"
	"fmt"
)

// Type is the discriminant carried in every inbound and outbound frame.
type Type string

const (
	TypeInitialSyncRequest           Type = "initial_sync_request"
	TypeInitialSyncResponse          Type = "initial_sync_response"
	TypeInitialSyncError             Type = "initial_sync_error"
	TypeUpdateDraft                  Type = "update_draft"
	TypeDraftUpdated                 Type = "draft_updated"
	TypeUpdateTitle                  Type = "update_title"
	TypeTitleUpdated                 Type = "title_updated"
	TypeChatMessageAdded             Type = "chat_message_added"
	TypeDeleteChat                   Type = "delete_chat"
	TypeChatDeleted                  Type = "chat_deleted"
	TypeDeleteDraft                  Type = "delete_draft"
	TypeDraftDeleted                 Type = "draft_deleted"
	TypeGetChatMessages              Type = "get_chat_messages"
	TypeChatMessagesResponse         Type = "chat_messages_response"
	TypeRequestChatContentBatch      Type = "request_chat_content_batch"
	TypeChatContentBatchResponse     Type = "chat_content_batch_response"
	TypeSetActiveChat                Type = "set_active_chat"
	TypeCancelAITask                 Type = "cancel_ai_task"
	TypeAITaskCancelled              Type = "ai_task_cancelled"
	TypeAIResponseCompleted          Type = "ai_response_completed"
	TypeAIResponseStorageConfirmed   Type = "ai_response_storage_confirmed"
	TypeEncryptedChatMetadata        Type = "encrypted_chat_metadata"
	TypeUpdatePostProcessingMetadata Type = "update_post_processing_metadata"
	TypePhasedSyncRequest            Type = "phased_sync_request"
	TypeSyncStatusRequest            Type = "sync_status_request"
	TypeSyncStatusResponse           Type = "sync_status_response"
	TypeAppSettingsMemoriesRequest   Type = "app_settings_memories_request"
	TypeAppSettingsMemoriesConfirmed Type = "app_settings_memories_confirmed"
	TypeScrollPositionUpdate         Type = "scroll_position_update"
	TypeChatReadStatusUpdate         Type = "chat_read_status_update"
	TypePing                         Type = "ping"
	TypePong                         Type = "pong"
	TypeBadRequest                   Type = "bad_request"
)

// Envelope is the outer `{type, payload}` shape every frame carries
// (spec §6). Payload is decoded a second time into the type-specific
// struct once Type has been read.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Out wraps an outbound message for marshaling; handlers build one of
// these and hand it to the connection manager rather than writing raw
// maps.
type Out struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Encode marshals an outbound message frame.
func Encode(t Type, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(Out{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("wsproto: encode %s: %w", t, err)
	}
	return raw, nil
}

// ErrUnknownType describes an envelope whose type tag does not match any
// known inbound message. Nothing in this package returns it;
// handlers.Route answers such a frame with bad_request directly.
var ErrUnknownType = fmt.Errorf("wsproto: unknown message type")

// InitialSyncRequest is the payload for initial_sync_request (spec §6).
type InitialSyncRequest struct {
	ChatIDs             []string       `json:"chat_ids"`
	ChatCount           int            `json:"chat_count"`
	ChatVersions        map[string]any `json:"chat_versions,omitempty"`
	ImmediateViewChatID string         `json:"immediate_view_chat_id,omitempty"`
	PendingMessageIDs   []string       `json:"pending_message_ids,omitempty"`
}

// UpdateDraft is the payload for update_draft (spec §6).
type UpdateDraft struct {
	ChatID           string `json:"chat_id"`
	EncryptedDraftMD string `json:"encrypted_draft_md,omitempty"`
}

// UpdateTitle is the payload for update_title (spec §6).
type UpdateTitle struct {
	ChatID         string `json:"chat_id"`
	EncryptedTitle string `json:"encrypted_title"`
}

// ChatMessageAdded is the payload for chat_message_added (spec §6).
type ChatMessageAdded struct {
	ChatID           string `json:"chatId"`
	MessageID        string `json:"message_id"`
	EncryptedContent string `json:"encrypted_content"`
	EncryptedSender  string `json:"sender_name"`
	CreatedAt        int64  `json:"created_at"`
}

// DeleteChat is the payload for delete_chat (spec §6).
type DeleteChat struct {
	ChatID string `json:"chatId"`
}

// DeleteDraft is the payload for delete_draft (spec §6).
type DeleteDraft struct {
	ChatID string `json:"chatId"`
}

// GetChatMessages is the payload for get_chat_messages (spec §6).
type GetChatMessages struct {
	ChatID string `json:"chat_id"`
}

// RequestChatContentBatch is the payload for request_chat_content_batch (spec §6).
type RequestChatContentBatch struct {
	ChatIDs []string `json:"chat_ids"`
}

// SetActiveChat is the payload for set_active_chat (spec §6). A nil
// ChatID (field absent) means the device has no active chat.
type SetActiveChat struct {
	ChatID *string `json:"chat_id,omitempty"`
}

// CancelAITask is the payload for cancel_ai_task (spec §6).
type CancelAITask struct {
	TaskID string `json:"task_id"`
}

// AIResponseMessage is the nested message object inside ai_response_completed.
type AIResponseMessage struct {
	MessageID        string `json:"message_id"`
	Role             string `json:"role"`
	EncryptedContent string `json:"encrypted_content"`
	CreatedAt        int64  `json:"created_at"`
}

// AIResponseCompleted is the payload for ai_response_completed (spec §6).
// Versions is optional: spec §8's "a client that never learns
// versions... falls back to content" scenario means handlers must not
// require it.
type AIResponseCompleted struct {
	ChatID   string             `json:"chat_id"`
	Message  AIResponseMessage  `json:"message"`
	Versions *ChatVersionsField `json:"versions,omitempty"`
}

// ChatVersionsField is the {messages_v, last_edited_overall_timestamp}
// shape several payloads carry (spec §6).
type ChatVersionsField struct {
	MessagesV                  int64 `json:"messages_v"`
	LastEditedOverallTimestamp int64 `json:"last_edited_overall_timestamp"`
}

// EncryptedChatMetadata is the payload for encrypted_chat_metadata (spec §6).
type EncryptedChatMetadata struct {
	ChatID                string            `json:"chat_id"`
	EncryptedIcon          string            `json:"encrypted_icon,omitempty"`
	EncryptedCategory      string            `json:"encrypted_category,omitempty"`
	EncryptedTags          string            `json:"encrypted_tags,omitempty"`
	EncryptedChatKey       string            `json:"encrypted_chat_key,omitempty"`
	EncryptedActiveFocusID string            `json:"encrypted_active_focus_id,omitempty"`
	Versions               ChatVersionsField `json:"versions"`
}

// UpdatePostProcessingMetadata is the payload for
// update_post_processing_metadata (spec §6).
type UpdatePostProcessingMetadata struct {
	ChatID                       string   `json:"chat_id"`
	MessageID                    string   `json:"message_id,omitempty"`
	EncryptedFollowUpSuggestions string   `json:"encrypted_follow_up_suggestions,omitempty"`
	EncryptedNewChatSuggestions  []string `json:"encrypted_new_chat_suggestions,omitempty"`
	EncryptedChatSummary         string   `json:"encrypted_chat_summary,omitempty"`
	EncryptedChatTags            string   `json:"encrypted_chat_tags,omitempty"`
}

// PhasedSyncRequest is the payload for phased_sync_request (spec §6).
type PhasedSyncRequest struct {
	Phase string `json:"phase"`
}

// AppSettingsMemoryEntry is one confirmed app-settings/memories value
// inside app_settings_memories_confirmed (spec §6).
type AppSettingsMemoryEntry struct {
	AppID          string `json:"app_id"`
	ItemKey        string `json:"item_key"`
	EncryptedValue string `json:"encrypted_value"`
}

// AppSettingsMemoriesConfirmed is the payload for
// app_settings_memories_confirmed (spec §6).
type AppSettingsMemoriesConfirmed struct {
	ChatID              string                   `json:"chat_id"`
	AppSettingsMemories []AppSettingsMemoryEntry `json:"app_settings_memories"`
}

// ScrollPositionUpdate is the payload for scroll_position_update (spec §6).
type ScrollPositionUpdate struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// ChatReadStatusUpdate is the payload for chat_read_status_update (spec §6).
type ChatReadStatusUpdate struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

// BadRequest is the payload sent back for an unrecognized type or a
// malformed payload for a known type.
type BadRequest struct {
	Reason string `json:"reason"`
}
