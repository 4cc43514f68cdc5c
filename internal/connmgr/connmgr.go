// Package connmgr is the Connection Manager: it fans a user's events out
// to every device they have connected, tracks which chat each device is
// currently viewing (for active-chat-filtered delivery, spec §5), and
// applies a disconnect grace window so a brief reconnect does not look
// like the user going fully offline mid AI-task.
//
// Grounded on internal/handlers/chat_handler.go's Hub v2 (userConnections
// count map, worker-pool broadcast, per-client rate.Limiter) generalized
// from a single flat client map to the (user_id, device_fingerprint_hash)
// keyed, active-chat-aware registry spec §3/§5 describe.
package connmgr

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/openmates/sync-core/internal/config"
	"github.com/openmates/sync-core/internal/metrics"
)

// ConnKey identifies one device's websocket connection for one user.
type ConnKey struct {
	UserID   string
	DeviceFP string
}

// Manager owns every live connection and the active-chat each one reports.
type Manager struct {
	logger *logrus.Logger
	mx     *metrics.Registry
	limits config.LimitsConfig

	mu    sync.RWMutex
	conns map[ConnKey]*Connection

	pendingMu sync.Mutex
	pending   map[ConnKey]*time.Timer
}

// New constructs a Manager. The Manager reads the per-device message rate
// and the disconnect grace window from limits; it does not apply
// MaxConnectionsPerUser or SendBufferSize.
func New(logger *logrus.Logger, mx *metrics.Registry, limits config.LimitsConfig) *Manager {
	return &Manager{
		logger:  logger,
		mx:      mx,
		limits:  limits,
		conns:   make(map[ConnKey]*Connection),
		pending: make(map[ConnKey]*time.Timer),
	}
}

// CountForUser returns how many devices a user currently has connected.
// The websocket upgrade path does not consult it, so
// LimitsConfig.MaxConnectionsPerUser is not enforced.
func (m *Manager) CountForUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.conns {
		if k.UserID == userID {
			n++
		}
	}
	return n
}

// Register adds a connection to the registry, cancelling any pending
// disconnect-grace eviction for the same key (a fast reconnect on the same
// device supersedes the timer rather than racing it).
func (m *Manager) Register(c *Connection) {
	key := ConnKey{UserID: c.UserID, DeviceFP: c.DeviceFP}

	m.pendingMu.Lock()
	if t, ok := m.pending[key]; ok {
		t.Stop()
		delete(m.pending, key)
	}
	m.pendingMu.Unlock()

	m.mu.Lock()
	if old, ok := m.conns[key]; ok {
		old.closeSend()
	}
	m.conns[key] = c
	m.mu.Unlock()

	m.mx.ActiveConnections.Inc()
	m.logger.WithFields(logrus.Fields{"user_id": c.UserID, "device_fp": c.DeviceFP}).Info("connection registered")
}

// Unregister schedules a connection's removal after the disconnect grace
// window rather than evicting it immediately, so a reconnect racing a
// transient network blip does not tear down in-flight AI task state.
func (m *Manager) Unregister(c *Connection) {
	key := ConnKey{UserID: c.UserID, DeviceFP: c.DeviceFP}

	m.mu.RLock()
	current, ok := m.conns[key]
	m.mu.RUnlock()
	if !ok || current != c {
		return // already replaced by a newer connection for this key
	}

	grace := m.limits.DisconnectGrace
	if grace <= 0 {
		m.evict(key, c)
		return
	}

	m.pendingMu.Lock()
	m.pending[key] = time.AfterFunc(grace, func() { m.evict(key, c) })
	m.pendingMu.Unlock()
}

func (m *Manager) evict(key ConnKey, c *Connection) {
	m.mu.Lock()
	if current, ok := m.conns[key]; ok && current == c {
		delete(m.conns, key)
		m.mu.Unlock()
		m.mx.ActiveConnections.Dec()
		m.logger.WithFields(logrus.Fields{"user_id": c.UserID, "device_fp": c.DeviceFP}).Info("connection evicted")
		return
	}
	m.mu.Unlock()
}

// SetActiveChat records the chat a device currently has open, so event-bus
// listeners can decide whether to stream an AI response or leave it for
// the next sync (spec §5).
func (m *Manager) SetActiveChat(userID, deviceFP, chatID string) {
	m.mu.RLock()
	c, ok := m.conns[ConnKey{UserID: userID, DeviceFP: deviceFP}]
	m.mu.RUnlock()
	if ok {
		c.setActiveChat(chatID)
	}
}

// ActiveChat returns the chat a device reports as open, or "" if none.
func (m *Manager) ActiveChat(userID, deviceFP string) string {
	m.mu.RLock()
	c, ok := m.conns[ConnKey{UserID: userID, DeviceFP: deviceFP}]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	return c.getActiveChat()
}

// Unicast sends payload to exactly one device.
func (m *Manager) Unicast(userID, deviceFP string, payload []byte) bool {
	m.mu.RLock()
	c, ok := m.conns[ConnKey{UserID: userID, DeviceFP: deviceFP}]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.trySend(c, payload)
}

// BroadcastToUser sends payload to every device the user has connected,
// optionally excluding one device (e.g. the device that originated the
// event, per spec §4.1's broadcast-exclusion semantics).
func (m *Manager) BroadcastToUser(userID string, payload []byte, excludeDeviceFP string) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, 4)
	for k, c := range m.conns {
		if k.UserID != userID {
			continue
		}
		if excludeDeviceFP != "" && k.DeviceFP == excludeDeviceFP {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if m.trySend(c, payload) {
			sent++
		}
	}
	return sent
}

// BroadcastToActiveChat sends payload only to devices that report chatID
// as their active chat, used for streaming AI tokens (spec §5) so idle
// devices are not woken for every token.
func (m *Manager) BroadcastToActiveChat(userID, chatID string, payload []byte) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, 4)
	for k, c := range m.conns {
		if k.UserID != userID {
			continue
		}
		if c.getActiveChat() != chatID {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if m.trySend(c, payload) {
			sent++
		}
	}
	return sent
}

// DeliverByActiveChat visits every device of a user and lets decide choose
// what (if anything) to send it, based on the chat it currently has open.
// This is how the AI streaming bridge forwards a different payload shape
// to a device actively viewing the chat than to one that is not (spec
// §4.4: "ai_message_update" for the active device, or on the final chunk
// only, "ai_background_response_completed" + "ai_typing_ended" for every
// other device).
func (m *Manager) DeliverByActiveChat(userID string, decide func(activeChat string) (payload []byte, ok bool)) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, 4)
	for k, c := range m.conns {
		if k.UserID == userID {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		payload, ok := decide(c.getActiveChat())
		if !ok {
			continue
		}
		if m.trySend(c, payload) {
			sent++
		}
	}
	return sent
}

// SendToFirstDevice delivers payload to exactly one of the user's
// connected devices, used by send_app_settings_memories_request (spec
// §4.4 / original_source's single-device targeting for that event so the
// permission prompt does not pop up redundantly on every device).
func (m *Manager) SendToFirstDevice(userID string, payload []byte) bool {
	m.mu.RLock()
	var target *Connection
	for k, c := range m.conns {
		if k.UserID == userID {
			target = c
			break
		}
	}
	m.mu.RUnlock()
	if target == nil {
		return false
	}
	return m.trySend(target, payload)
}

func (m *Manager) trySend(c *Connection, payload []byte) bool {
	select {
	case c.send <- payload:
		m.mx.MessagesSent.WithLabelValues("delivered").Inc()
		return true
	default:
		m.mx.MessagesDropped.WithLabelValues("send_buffer_full").Inc()
		return false
	}
}

// NewLimiter builds the per-device rate limiter applied in readPump,
// matching chat_handler.go's use of golang.org/x/time/rate per client.
func (m *Manager) NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(m.limits.MessageRatePerSecond), int(m.limits.MessageRatePerSecond))
}
