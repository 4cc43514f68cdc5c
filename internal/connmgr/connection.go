package connmgr

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Pump timing, grounded on websocket_handler.go's writeWait/pongWait/
// pingPeriod/maxMessageSize constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Handler is called once per inbound frame with the raw JSON payload. It
// lives in internal/handlers, which owns message-type dispatch; connmgr
// only owns the transport.
type Handler func(c *Connection, payload []byte)

// Connection wraps one device's websocket, matching websocket_handler.go's
// Client but keyed by (user_id, device_fingerprint_hash) and carrying the
// active-chat field and rate limiter spec §5 needs.
type Connection struct {
	UserID   string
	DeviceFP string

	conn    *websocket.Conn
	send    chan []byte
	logger  *logrus.Logger
	limiter *rate.Limiter

	mu         sync.RWMutex
	activeChat string

	closeOnce sync.Once
}

// NewConnection wraps an already-upgraded websocket connection.
func NewConnection(conn *websocket.Conn, userID, deviceFP string, sendBuffer int, logger *logrus.Logger, limiter *rate.Limiter) *Connection {
	return &Connection{
		UserID:   userID,
		DeviceFP: deviceFP,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
		limiter:  limiter,
	}
}

func (c *Connection) setActiveChat(chatID string) {
	c.mu.Lock()
	c.activeChat = chatID
	c.mu.Unlock()
}

func (c *Connection) getActiveChat() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeChat
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ReadPump reads frames until the connection closes, applying the
// per-device rate limiter and handing every frame it admits to handle.
// Grounded on websocket_handler.go's readPump (SetReadLimit, pong
// deadline refresh), with rate limiting added per chat_handler.go.
func (c *Connection) ReadPump(mgr *Manager, handle Handler) {
	defer func() {
		mgr.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("user_id", c.UserID).Warn("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			mgr.mx.MessagesDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		handle(c, payload)
	}
}

// WritePump drains the send channel to the socket and keeps it alive with
// periodic pings. Grounded on websocket_handler.go's writePump.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
