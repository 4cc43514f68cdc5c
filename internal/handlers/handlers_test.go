package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/connmgr"
	"github.com/openmates/sync-core/internal/metrics"
)

// newLoopbackServer upgrades every connection and wires it through Route,
// mirroring websocket_handler_test.go's TestWebSocketIntegration shape:
// a real httptest server and a real client-side websocket.Conn instead of
// poking at unexported fields.
func newLoopbackServer(t *testing.T, hc *Context, mgr *connmgr.Manager) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := connmgr.NewConnection(conn, "user-1", "device-1", 16, hc.Logger, mgr.NewLimiter())
		mgr.Register(c)
		go c.WritePump()
		c.ReadPump(mgr, Route(hc))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func newTestContext(t *testing.T) (*Context, *connmgr.Manager) {
	t.Helper()
	logger := logrus.New()
	mx := metrics.NewRegistry(prometheus.NewRegistry())
	mgr := connmgr.New(logger, mx, config.LimitsConfig{
		MaxConnectionsPerUser: 8,
		SendBufferSize:        16,
		MessageRatePerSecond:  1000,
		DisconnectGrace:       time.Second,
	})
	return &Context{Conns: mgr, Logger: logger, Mx: mx}, mgr
}

func TestRoutePingRepliesPong(t *testing.T) {
	hc, mgr := newTestContext(t)
	_, client := newLoopbackServer(t, hc, mgr)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","payload":{}}`)))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"pong"`)
}

func TestRouteUnknownTypeRepliesBadRequest(t *testing.T) {
	hc, mgr := newTestContext(t)
	_, client := newLoopbackServer(t, hc, mgr)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"not_a_real_type","payload":{}}`)))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"bad_request"`)
	require.Contains(t, string(msg), "not_a_real_type")
}

func TestRouteMalformedEnvelopeRepliesBadRequest(t *testing.T) {
	hc, mgr := newTestContext(t)
	_, client := newLoopbackServer(t, hc, mgr)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json at all`)))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"bad_request"`)
}
