// Package domain holds the entity types shared across the cache, records,
// sync and AI-dispatch packages: chats, messages, drafts, embeds and the
// pending-permission-request contract described in spec §3.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Domain errors.
var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrNotOwner         = errors.New("user does not own this chat")
	ErrInvalidRole      = errors.New("invalid message role")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrVersionRegressed = errors.New("version must be strictly increasing")
)

// MessageRole is the only semantic field the core inspects on a message (spec §3).
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

func (r MessageRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// MessageStatus mirrors spec §3's enumerated lifecycle.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusError     MessageStatus = "error"
	StatusStreaming MessageStatus = "streaming"
	StatusDelivered MessageStatus = "delivered"
	StatusSynced    MessageStatus = "synced"
)

// Message is an opaque-to-the-core AI cache or sync-history entry (spec §3).
// EncryptedContent is ciphertext the core never inspects.
type Message struct {
	ID               string            `json:"id"`
	ChatID           string            `json:"chat_id"`
	Role             MessageRole       `json:"role"`
	EncryptedContent string            `json:"encrypted_content"`
	CreatedAt        int64             `json:"created_at"`
	Status           MessageStatus     `json:"status"`
	EncryptedSender  string            `json:"encrypted_sender,omitempty"`
	EncryptedCategory string           `json:"encrypted_category,omitempty"`
	EncryptedModel   string            `json:"encrypted_model,omitempty"`
	Extra            map[string]any    `json:"-"`
}

// NewMessageID returns a fresh opaque message identifier.
func NewMessageID() string { return uuid.New().String() }

// Versions is the per-chat component-version hash (spec §3/§4.2).
// UserDraftVersions maps "user_draft_v:{user_id}" fields dynamically.
type Versions struct {
	MessagesV         int64           `json:"messages_v"`
	TitleV            int64           `json:"title_v"`
	UserDraftVersions map[string]int64 `json:"user_draft_versions,omitempty"`
}

// UserDraftField returns the dynamic hash field name for a user's draft version.
func UserDraftField(userID string) string {
	return "user_draft_v:" + userID
}

// ListItemData is the encrypted per-chat metadata surfaced in the chat list (spec §3).
// All *-prefixed fields are opaque ciphertext blobs to the core.
type ListItemData struct {
	EncryptedTitle        string `json:"encrypted_title,omitempty"`
	UnreadCount           int    `json:"unread_count"`
	EncryptedIcon         string `json:"encrypted_icon,omitempty"`
	EncryptedCategory     string `json:"encrypted_category,omitempty"`
	EncryptedChatKey      string `json:"encrypted_chat_key,omitempty"`
	EncryptedTags         string `json:"encrypted_tags,omitempty"`
	EncryptedSummary      string `json:"encrypted_summary,omitempty"`
	EncryptedSuggestions  string `json:"encrypted_suggestions,omitempty"`
	EncryptedActiveFocusID string `json:"encrypted_active_focus_id,omitempty"`
	Pinned                bool   `json:"pinned"`
	LastMessageTimestamp  int64  `json:"last_message_timestamp"`
	ScrollAnchorMessageID string `json:"scroll_anchor_message_id,omitempty"`
}

// Draft is a per-(user,chat) draft entry (spec §3).
type Draft struct {
	EncryptedDraftMD string `json:"encrypted_draft_md"` // "null" sentinel per spec means explicitly cleared
	DraftV           int64  `json:"draft_v"`
}

// IsNull reports whether the draft carries the explicit "null" sentinel.
func (d Draft) IsNull() bool { return d.EncryptedDraftMD == "null" }

// PendingPermissionRequest is the suspend/resume contract for AI tasks that
// need user-held settings/memories the server does not hold (spec §3/§4.4).
// It deliberately excludes message history.
type PendingPermissionRequest struct {
	RequestID        string   `json:"request_id"`
	ChatID           string   `json:"chat_id"`
	MessageID        string   `json:"message_id"`
	UserID           string   `json:"user_id"`
	UserIDHash       string   `json:"user_id_hash"`
	MateID           string   `json:"mate_id,omitempty"`
	ActiveFocusID    string   `json:"active_focus_id,omitempty"`
	ChatHasTitle     bool     `json:"chat_has_title"`
	IsIncognito      bool     `json:"is_incognito"`
	RequestedKeys    []string `json:"requested_keys"`
	TaskID           string   `json:"task_id"`
}

// Chat is the durable projection of a chat owned by one user (spec §3).
// The Records Store owns this shape; the Cache Layer mirrors it.
type Chat struct {
	ID                         string    `json:"id" gorm:"primaryKey"`
	UserID                     string    `json:"user_id" gorm:"index;not null"`
	LastEditedOverallTimestamp int64     `json:"last_edited_overall_timestamp"`
	EncryptedTitle             string    `json:"encrypted_title"`
	MessagesV                  int64     `json:"messages_v"`
	TitleV                     int64     `json:"title_v"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
	DeletedAt                  *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Chat) TableName() string { return "chats" }

// NewChatID returns a fresh opaque chat identifier. Chats are created on
// first message by the client, never by a pure metadata event (spec §3).
func NewChatID() string { return uuid.New().String() }

// Embed is server-cached vault-encrypted auxiliary content, reference
// counted per chat via a set index (spec §3).
type Embed struct {
	ID               string `json:"id" gorm:"primaryKey"`
	VaultCiphertext  []byte `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

func (Embed) TableName() string { return "embeds" }
