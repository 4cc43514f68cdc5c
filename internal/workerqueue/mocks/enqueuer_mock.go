// Package mocks holds a testify/mock fake for workerqueue.Enqueuer.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/openmates/sync-core/internal/workerqueue"
)

// Enqueuer is a mock implementation of workerqueue.Enqueuer.
type Enqueuer struct {
	mock.Mock
}

func (m *Enqueuer) PersistMessage(ctx context.Context, userID, chatID string, payload workerqueue.PersistMessagePayload) error {
	args := m.Called(ctx, userID, chatID, payload)
	return args.Error(0)
}

func (m *Enqueuer) PersistTitle(ctx context.Context, userID, chatID string, payload workerqueue.PersistTitlePayload) error {
	args := m.Called(ctx, userID, chatID, payload)
	return args.Error(0)
}

func (m *Enqueuer) TombstoneChat(ctx context.Context, userID, chatID string) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *Enqueuer) PersistPostProcessingMetadata(ctx context.Context, userID, chatID string, payload workerqueue.PersistPostProcessingMetadataPayload) error {
	args := m.Called(ctx, userID, chatID, payload)
	return args.Error(0)
}

func (m *Enqueuer) RunAITask(ctx context.Context, userID, chatID string, payload workerqueue.RunAITaskPayload) error {
	args := m.Called(ctx, userID, chatID, payload)
	return args.Error(0)
}
