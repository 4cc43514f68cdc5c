// Package mocks holds testify/mock fakes for internal/records, in the
// style of the teacher's testify-based handler tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/openmates/sync-core/internal/domain"
)

// Store is a mock implementation of records.Store.
type Store struct {
	mock.Mock
}

func (m *Store) CreateChat(ctx context.Context, chat *domain.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

func (m *Store) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	args := m.Called(ctx, userID, chatID)
	chat, _ := args.Get(0).(*domain.Chat)
	return chat, args.Error(1)
}

func (m *Store) ListChats(ctx context.Context, userID string, limit int, cursor string) ([]domain.Chat, string, error) {
	args := m.Called(ctx, userID, limit, cursor)
	chats, _ := args.Get(0).([]domain.Chat)
	return chats, args.String(1), args.Error(2)
}

func (m *Store) UpdateTitle(ctx context.Context, userID, chatID, encryptedTitle string, titleV int64) error {
	args := m.Called(ctx, userID, chatID, encryptedTitle, titleV)
	return args.Error(0)
}

func (m *Store) UpdateVersions(ctx context.Context, userID, chatID string, messagesV, titleV int64, lastEditedOverallTimestamp int64) error {
	args := m.Called(ctx, userID, chatID, messagesV, titleV, lastEditedOverallTimestamp)
	return args.Error(0)
}

func (m *Store) TombstoneChat(ctx context.Context, userID, chatID string) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *Store) SaveMessage(ctx context.Context, userID string, msg domain.Message) error {
	args := m.Called(ctx, userID, msg)
	return args.Error(0)
}

func (m *Store) GetMessages(ctx context.Context, userID, chatID string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, userID, chatID, limit)
	msgs, _ := args.Get(0).([]domain.Message)
	return msgs, args.Error(1)
}
