//go:build integration

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/openmates/sync-core/internal/cache"
	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/metrics"
)

func newCacheBackedContext(t *testing.T) (*Context, *connmgr.Manager) {
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
	c := cache.New(client, config.CacheConfig{
		ChatVersionsTTL: time.Hour,
		UserDraftTTL:    time.Hour,
	}, logger, mx)

	mgr := connmgr.New(logger, mx, config.LimitsConfig{
		MaxConnectionsPerUser: 8,
		SendBufferSize:        16,
		MessageRatePerSecond:  1000,
		DisconnectGrace:       time.Second,
	})

	return &Context{Cache: c, Conns: mgr, Logger: logger, Mx: mx}, mgr
}

func dialLoopback(t *testing.T, hc *Context, mgr *connmgr.Manager, deviceFP string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := connmgr.NewConnection(conn, "user-1", deviceFP, 16, hc.Logger, mgr.NewLimiter())
		mgr.Register(c)
		go c.WritePump()
		c.ReadPump(mgr, Route(hc))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestUpdateDraftBroadcastsToSiblingDevice exercises the real cache write
// path and confirms a second device of the same user (not the sender)
// receives draft_updated, matching spec §6's "broadcasts to siblings".
func TestUpdateDraftBroadcastsToSiblingDevice(t *testing.T) {
	hc, mgr := newCacheBackedContext(t)

	sender := dialLoopback(t, hc, mgr, "device-sender")
	sibling := dialLoopback(t, hc, mgr, "device-sibling")

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"update_draft","payload":{"chat_id":"chat-1","encrypted_draft_md":"ciphertext"}}`)))

	sibling.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := sibling.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"draft_updated"`)
	require.Contains(t, string(msg), "ciphertext")

	draft, err := hc.Cache.GetDraft(context.Background(), "user-1", "chat-1")
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, "ciphertext", draft.EncryptedDraftMD)
}
