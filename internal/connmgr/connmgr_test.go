package connmgr

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/metrics"
)

func newTestManager(t *testing.T, grace time.Duration) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	mx := metrics.NewRegistry(prometheus.NewRegistry())
	return New(logger, mx, config.LimitsConfig{
		MaxConnectionsPerUser: 8,
		SendBufferSize:        16,
		MessageRatePerSecond:  100,
		DisconnectGrace:       grace,
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestConnection(userID, deviceFP string) *Connection {
	return &Connection{
		UserID:   userID,
		DeviceFP: deviceFP,
		send:     make(chan []byte, 16),
		logger:   logrus.New(),
	}
}

func TestRegisterAndUnicast(t *testing.T) {
	mgr := newTestManager(t, 0)
	c := newTestConnection("user-1", "device-a")
	mgr.Register(c)

	if !mgr.Unicast("user-1", "device-a", []byte("hello")) {
		t.Fatal("expected unicast to succeed")
	}
	select {
	case got := <-c.send:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected payload on send channel")
	}
}

func TestBroadcastExcludesOriginDevice(t *testing.T) {
	mgr := newTestManager(t, 0)
	a := newTestConnection("user-1", "device-a")
	b := newTestConnection("user-1", "device-b")
	mgr.Register(a)
	mgr.Register(b)

	sent := mgr.BroadcastToUser("user-1", []byte("event"), "device-a")
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	select {
	case <-a.send:
		t.Fatal("excluded device should not receive the broadcast")
	default:
	}
	select {
	case <-b.send:
	default:
		t.Fatal("non-excluded device should receive the broadcast")
	}
}

func TestBroadcastToActiveChatFiltersByChat(t *testing.T) {
	mgr := newTestManager(t, 0)
	a := newTestConnection("user-1", "device-a")
	b := newTestConnection("user-1", "device-b")
	mgr.Register(a)
	mgr.Register(b)
	mgr.SetActiveChat("user-1", "device-a", "chat-1")
	mgr.SetActiveChat("user-1", "device-b", "chat-2")

	sent := mgr.BroadcastToActiveChat("user-1", "chat-1", []byte("token"))
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	select {
	case <-a.send:
	default:
		t.Fatal("device viewing chat-1 should receive the stream token")
	}
}

func TestUnregisterGraceWindowAllowsReconnect(t *testing.T) {
	mgr := newTestManager(t, 50*time.Millisecond)
	c := newTestConnection("user-1", "device-a")
	mgr.Register(c)
	mgr.Unregister(c)

	// Immediately re-registering the same key should survive the pending
	// eviction timer rather than racing it.
	c2 := newTestConnection("user-1", "device-a")
	mgr.Register(c2)

	time.Sleep(100 * time.Millisecond)

	if !mgr.Unicast("user-1", "device-a", []byte("still here")) {
		t.Fatal("expected reconnected device to still be registered after grace window elapses")
	}
}

func TestUnregisterEvictsAfterGraceWindow(t *testing.T) {
	mgr := newTestManager(t, 20*time.Millisecond)
	c := newTestConnection("user-1", "device-a")
	mgr.Register(c)
	mgr.Unregister(c)

	time.Sleep(60 * time.Millisecond)

	if mgr.Unicast("user-1", "device-a", []byte("gone")) {
		t.Fatal("expected device to be evicted after grace window with no reconnect")
	}
}
