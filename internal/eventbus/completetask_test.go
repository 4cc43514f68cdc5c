//go:build integration

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/openmates/sync-core/internal/aidispatch"
	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/metrics"
	wqmocks "github.com/openmates/sync-core/internal/workerqueue/mocks"
)

func newTestBus(t *testing.T) (*Bus, *cache.Cache, *wqmocks.Enqueuer) {
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

	enq := new(wqmocks.Enqueuer)
	dispatch := aidispatch.New(c, enq, mx, logger)
	mgr := connmgr.New(logger, mx, config.LimitsConfig{
		MaxConnectionsPerUser: 8,
		SendBufferSize:        16,
		MessageRatePerSecond:  1000,
		DisconnectGrace:       time.Second,
	})

	return New(c, mgr, dispatch, logger, mx), c, enq
}

// TestCompleteTaskDequeuesQueuedTurn confirms the final-chunk path
// releases the single-flight slot and takes the turn that was queued
// behind the completed one off the chat's queue.
func TestCompleteTaskDequeuesQueuedTurn(t *testing.T) {
	ctx := context.Background()
	b, c, enq := newTestBus(t)

	acquired, err := c.TryAcquireActiveTask(ctx, "chat-1", "task-1", 600)
	require.NoError(t, err)
	require.True(t, acquired)

	enq.On("RunAITask", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	require.NoError(t, c.EnqueueTurn(ctx, "chat-1", cache.QueuedTurn{MessageID: "m-2"}))

	b.completeTask(ctx, "chat-1", "task-1")

	active, ok, err := c.GetActiveTask(ctx, "chat-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, active)

	queued, err := c.QueueLength(ctx, "chat-1")
	require.NoError(t, err)
	require.Zero(t, queued)
}
