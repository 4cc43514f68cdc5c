//go:build integration

package aidispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/domain"
	"github.com/openmates/sync-core/internal/metrics"
	"github.com/openmates/sync-core/internal/workerqueue"
	wqmocks "github.com/openmates/sync-core/internal/workerqueue/mocks"
)

func payload(taskID string) workerqueue.RunAITaskPayload {
	return workerqueue.RunAITaskPayload{TaskID: taskID, MessageID: "m-" + taskID}
}

// newTestService spins up a real Redis container so the single-flight
// scheduling logic (Lua scripts in internal/cache/ai_task.go) runs against
// the same engine it targets in production, instead of a stand-in.
func newTestService(t *testing.T) (*Service, *wqmocks.Enqueuer) {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	mx := metrics.NewRegistry(prometheus.NewRegistry())
	c := cache.New(client, config.CacheConfig{}, logger, mx)

	enq := &wqmocks.Enqueuer{}
	return New(c, enq, mx, logger), enq
}

func TestStartTurnAcquiresWhenIdle(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	enq.On("RunAITask", ctx, "user-1", "chat-1", mock.Anything).Return(nil)

	started, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-1", payload("task-1"), cache.QueuedTurn{MessageID: "m1"})
	require.NoError(t, err)
	require.True(t, started)
	enq.AssertExpectations(t)
}

func TestStartTurnQueuesWhenActive(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	enq.On("RunAITask", ctx, "user-1", "chat-1", mock.Anything).Return(nil).Once()

	started, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-1", payload("task-1"), cache.QueuedTurn{MessageID: "m1"})
	require.NoError(t, err)
	require.True(t, started)

	started, err = svc.StartTurn(ctx, "user-1", "chat-1", "task-2", payload("task-2"), cache.QueuedTurn{MessageID: "m2"})
	require.NoError(t, err)
	require.False(t, started, "a second turn for the same chat must queue, not start a new worker job")

	enq.AssertExpectations(t)
}

func TestCancelResolvesTaskToChatAndClearsQueue(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	enq.On("RunAITask", ctx, "user-1", "chat-1", mock.Anything).Return(nil).Once()
	_, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-1", payload("task-1"), cache.QueuedTurn{MessageID: "m1"})
	require.NoError(t, err)
	started, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-2", payload("task-2"), cache.QueuedTurn{MessageID: "m2"})
	require.NoError(t, err)
	require.False(t, started)

	chatID, err := svc.Cancel(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, "chat-1", chatID)

	_, active, err := svc.cache.GetActiveTask(ctx, "chat-1")
	require.NoError(t, err)
	require.False(t, active)

	queued, err := svc.cache.QueueLength(ctx, "chat-1")
	require.NoError(t, err)
	require.Zero(t, queued)
}

func TestCompleteDrainsQueuedTurn(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	enq.On("RunAITask", ctx, "user-1", "chat-1", mock.Anything).Return(nil).Once()
	_, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-1", payload("task-1"), cache.QueuedTurn{MessageID: "m1"})
	require.NoError(t, err)

	started, err := svc.StartTurn(ctx, "user-1", "chat-1", "task-2", payload("task-2"), cache.QueuedTurn{MessageID: "m2"})
	require.NoError(t, err)
	require.False(t, started)

	next, err := svc.Complete(ctx, "chat-1", "task-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "m2", next.MessageID)
}

func TestSuspendAndResumeEnqueuesContinuation(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	req := domain.PendingPermissionRequest{
		RequestID:     "req-1",
		ChatID:        "chat-1",
		TaskID:        "task-1",
		RequestedKeys: []string{"mates.finance:account_iban"},
	}
	require.NoError(t, svc.Suspend(ctx, "chat-1", req))

	pending, err := svc.PendingRequest(ctx, "chat-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, "req-1", pending.RequestID)

	enq.On("RunAITask", ctx, "user-1", "chat-1", mock.MatchedBy(func(p interface{}) bool {
		return true
	})).Return(nil).Once()

	err = svc.Resume(ctx, "user-1", "chat-1", []ConfirmedValue{
		{AppID: "mates.finance", ItemKey: "account_iban", Value: "encrypted-blob"},
	})
	require.NoError(t, err)

	pending, err = svc.PendingRequest(ctx, "chat-1")
	require.NoError(t, err)
	require.Nil(t, pending, "resume must clear the pending request")

	enq.AssertExpectations(t)
}
