package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSendBufferFull means the peer is not draining its socket fast
// enough. The frame is dropped; broadcast is best-effort and a lagging
// client re-fetches authoritative state on reconnect.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnectionClosed means the connection was torn down before the frame
// could be queued.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is one live WebSocket transport session. Identity and room
// membership live in the presence registry; this type only moves bytes.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu        sync.RWMutex
	userLabel string
	lastPong  time.Time
	createdAt time.Time
	closed    bool
	closeOnce sync.Once
}

// NewConnection creates a new transport connection
func NewConnection(id string, conn *websocket.Conn) *Connection {
	return &Connection{
		ID:        id,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		lastPong:  time.Now(),
		createdAt: time.Now(),
	}
}

// Enqueue hands a frame to the write pump without blocking. Dropping on a
// full buffer isolates one dead peer from the rest of the room. The lock
// keeps Enqueue and Close ordered: no send can race the channel close.
func (c *Connection) Enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SetUserLabel records the authenticated user for log lines
func (c *Connection) SetUserLabel(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userLabel = userID
}

// UserLabel returns the authenticated user id, or empty
func (c *Connection) UserLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userLabel
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// LastPong returns the last pong time
func (c *Connection) LastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Close tears the socket down. Safe to call from both pumps.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()

		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}
