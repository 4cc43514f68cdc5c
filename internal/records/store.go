// Package records is a reference client for the external Records Store:
// the durable Postgres projection of chats and messages the Cache Layer
// mirrors (spec §3 "the two are eventually consistent"). The core only
// reads through this package directly (cache-miss reconstruction, spec
// §4.3); writes are enqueued as worker jobs via internal/workerqueue so a
// slow or unavailable database never blocks a websocket round trip.
//
// Grounded on internal/repository/chat_repository.go's cache-aside
// GetConversation/ListConversations/SendMessage, reworked from raw
// database/sql + hand-rolled sharding onto gorm.io/gorm, the ORM the rest
// of the example pack's services use for this exact concern.
package records

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/openmates/sync-core/internal/domain"
)

// Store is the durable projection the Cache Layer reconstructs from on a
// cold miss and the Worker Runner writes to asynchronously.
type Store interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string, limit int, cursor string) ([]domain.Chat, string, error)
	UpdateTitle(ctx context.Context, userID, chatID, encryptedTitle string, titleV int64) error
	UpdateVersions(ctx context.Context, userID, chatID string, messagesV, titleV int64, lastEditedOverallTimestamp int64) error
	TombstoneChat(ctx context.Context, userID, chatID string) error

	SaveMessage(ctx context.Context, userID string, msg domain.Message) error
	GetMessages(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error)
}

// messageRow is the durable table shape for a message. Unlike
// domain.Message (which the cache stores as a JSON blob per list entry),
// the Records Store keeps messages as rows so the worker's persistence
// path can query/paginate them independently of any cache TTL.
type messageRow struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"index:idx_messages_user_chat"`
	ChatID            string `gorm:"index:idx_messages_user_chat"`
	Role              string
	EncryptedContent  string
	EncryptedSender   string
	EncryptedCategory string
	EncryptedModel    string
	Status            string
	CreatedAt         int64 `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

type gormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened gorm.DB. Connection pooling and
// dialect selection happen in cmd/server/main.go, matching the teacher's
// convention of configuring *sql.DB once at process start.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func (s *gormStore) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", chatID, userID).
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// chatCursor is a (last_edited_overall_timestamp, id) pagination token,
// base64-encoded so it is an opaque string to the client. Grounded on
// chat_repository.go's ListConversations cursor encoding.
type chatCursor struct {
	timestamp int64
	id        string
}

func encodeCursor(c chatCursor) string {
	raw := fmt.Sprintf("%d:%s", c.timestamp, c.id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (chatCursor, error) {
	if s == "" {
		return chatCursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return chatCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return chatCursor{}, fmt.Errorf("malformed cursor")
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return chatCursor{}, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return chatCursor{timestamp: ts, id: parts[1]}, nil
}

func (s *gormStore) ListChats(ctx context.Context, userID string, limit int, cursor string) ([]domain.Chat, string, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	q := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("last_edited_overall_timestamp DESC, id DESC").
		Limit(limit + 1)

	if cursor != "" {
		q = q.Where("(last_edited_overall_timestamp, id) < (?, ?)", cur.timestamp, cur.id)
	}

	var chats []domain.Chat
	if err := q.Find(&chats).Error; err != nil {
		return nil, "", fmt.Errorf("list chats: %w", err)
	}

	var next string
	if len(chats) > limit {
		last := chats[limit-1]
		next = encodeCursor(chatCursor{timestamp: last.LastEditedOverallTimestamp, id: last.ID})
		chats = chats[:limit]
	}

	return chats, next, nil
}

func (s *gormStore) UpdateTitle(ctx context.Context, userID, chatID, encryptedTitle string, titleV int64) error {
	res := s.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			"encrypted_title": encryptedTitle,
			"title_v":         titleV,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func (s *gormStore) UpdateVersions(ctx context.Context, userID, chatID string, messagesV, titleV int64, lastEditedOverallTimestamp int64) error {
	res := s.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			"messages_v":                    messagesV,
			"title_v":                       titleV,
			"last_edited_overall_timestamp": lastEditedOverallTimestamp,
			"updated_at":                    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update versions: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func (s *gormStore) TombstoneChat(ctx context.Context, userID, chatID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Update("deleted_at", &now)
	if res.Error != nil {
		return fmt.Errorf("tombstone chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func (s *gormStore) SaveMessage(ctx context.Context, userID string, msg domain.Message) error {
	row := messageRow{
		ID:                msg.ID,
		UserID:            userID,
		ChatID:            msg.ChatID,
		Role:              string(msg.Role),
		EncryptedContent:  msg.EncryptedContent,
		EncryptedSender:   msg.EncryptedSender,
		EncryptedCategory: msg.EncryptedCategory,
		EncryptedModel:    msg.EncryptedModel,
		Status:            string(msg.Status),
		CreatedAt:         msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *gormStore) GetMessages(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	out := make([]domain.Message, len(rows))
	for i, r := range rows {
		out[i] = domain.Message{
			ID:                r.ID,
			ChatID:            r.ChatID,
			Role:              domain.MessageRole(r.Role),
			EncryptedContent:  r.EncryptedContent,
			CreatedAt:         r.CreatedAt,
			Status:            domain.MessageStatus(r.Status),
			EncryptedSender:   r.EncryptedSender,
			EncryptedCategory: r.EncryptedCategory,
			EncryptedModel:    r.EncryptedModel,
		}
	}
	return out, nil
}
