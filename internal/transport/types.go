// Package transport implements the bridge's WebSocket connection manager:
// upgrade handling, per-connection heartbeats, inbound message dispatch by
// type, and non-blocking outbound delivery with capacity limiting.
package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"politicalsim/bridge/internal/logging"
)

// ConnectionStatus tracks a connection's lifecycle stage.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

const outboundBufferSize = 256

// Connection is one accepted WebSocket client, identified by a
// server-assigned ID and labelled with the identity string from its
// handshake (the spec's only authentication: an identity, not a credential).
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn   *websocket.Conn
	send   chan []byte
	logger *logging.Logger

	mu             sync.RWMutex
	remoteIdentity string
	status         ConnectionStatus
	lastHeartbeat  time.Time
}

// RemoteIdentity reports the identity string the peer supplied in its
// handshake, falling back to its network address until the handshake
// completes.
func (c *Connection) RemoteIdentity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteIdentity
}

func (c *Connection) setRemoteIdentity(id string) {
	c.mu.Lock()
	c.remoteIdentity = id
	c.mu.Unlock()
}

// Status reports the connection's current lifecycle stage.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// LastHeartbeat reports when the connection was last confirmed alive.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

func (c *Connection) touchHeartbeat(at time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

// enqueue attempts a non-blocking send, reporting whether the frame was
// accepted into the outbound buffer.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
