package transport

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/protocol"
)

const writeWait = 10 * time.Second

// Always allow localhost for dev convenience.
var localHosts = map[string]struct{}{
	"127.0.0.1": {},
	"localhost":  {},
	"::1":        {},
}

// MessageHandler processes one decoded inbound envelope for a connection.
// A returned error is reported back to the sender as an ERROR envelope
// correlated to the offending message id; it never closes the connection.
type MessageHandler func(conn *Connection, env *protocol.Envelope) error

// MetricsProvider supplies the liveness payload embedded in heartbeats.
type MetricsProvider func() protocol.SystemMetrics

var errCapacity = errors.New("transport: at connection capacity")

// Manager accepts WebSocket clients, performs the handshake, and dispatches
// inbound messages to registered handlers by message_type.
type Manager struct {
	cfg    config.Config
	logger *logging.Logger

	upgrader websocket.Upgrader
	limiter  *SlidingWindowLimiter

	mu          sync.RWMutex
	connections map[string]*Connection
	pending     int
	startedAt   time.Time
	startupErr  error

	handlersMu sync.RWMutex
	handlers   map[protocol.MessageType]MessageHandler

	metricsProvider MetricsProvider

	onConnectMu    sync.RWMutex
	onConnect      []func(*Connection)
	onDisconnect   []func(string)
}

// NewManager constructs a Manager bound to the bridge's transport settings.
func NewManager(cfg config.Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.L()
	}
	m := &Manager{
		cfg:         cfg,
		logger:      logger,
		connections: make(map[string]*Connection),
		handlers:    make(map[protocol.MessageType]MessageHandler),
		startedAt:   time.Now(),
		limiter:     NewSlidingWindowLimiter(time.Second, connectAttemptBurst(cfg.MaxConnections), nil),
	}
	m.upgrader = websocket.Upgrader{CheckOrigin: buildOriginChecker(logger, cfg.AllowedOrigins)}
	return m
}

func connectAttemptBurst(maxConnections int) int {
	if maxConnections <= 0 {
		return 50
	}
	burst := maxConnections * 2
	if burst < 10 {
		burst = 10
	}
	return burst
}

// RegisterHandler binds a handler for msgType, replacing any prior handler.
func (m *Manager) RegisterHandler(msgType protocol.MessageType, handler MessageHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[msgType] = handler
}

// OnConnect registers a callback invoked once a connection completes its
// handshake.
func (m *Manager) OnConnect(fn func(*Connection)) {
	m.onConnectMu.Lock()
	defer m.onConnectMu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

// OnDisconnect registers a callback invoked when a connection is removed.
func (m *Manager) OnDisconnect(fn func(connectionID string)) {
	m.onConnectMu.Lock()
	defer m.onConnectMu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// SetMetricsProvider wires the profiler/connection counts used to populate
// heartbeat SystemMetrics.
func (m *Manager) SetMetricsProvider(fn MetricsProvider) {
	m.metricsProvider = fn
}

// UpgradeHandler returns the http.HandlerFunc that accepts WebSocket clients.
func (m *Manager) UpgradeHandler() http.HandlerFunc {
	return m.serveWS
}

func (m *Manager) serveWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := m.logger.With(logging.String("remote_addr", r.RemoteAddr))

	if m.limiter != nil && !m.limiter.Allow() {
		reqLogger.Warn("rejecting websocket connection: rate limit exceeded")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if err := m.reserveCapacity(); err != nil {
		reqLogger.Warn("refusing websocket connection: at capacity", logging.Int("max_connections", m.cfg.MaxConnections))
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.releaseCapacity()
		reqLogger.Error("websocket upgrade failed", logging.Error(err))
		return
	}

	c := &Connection{
		ID:          protocol.NewMessageID(),
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		send:        make(chan []byte, outboundBufferSize),
		logger:      reqLogger,
		status:      StatusConnecting,
	}
	c.setRemoteIdentity(r.RemoteAddr)
	c.touchHeartbeat(time.Now())

	if m.cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(m.cfg.MaxPayloadBytes)
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.pending--
	m.mu.Unlock()

	go m.writePump(c)
	go m.readPump(c)

	if !m.sendHandshake(c) {
		m.removeConnection(c.ID, "handshake send failed")
		return
	}
}

func (m *Manager) reserveCapacity() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxConnections > 0 && len(m.connections)+m.pending >= m.cfg.MaxConnections {
		return errCapacity
	}
	m.pending++
	return nil
}

func (m *Manager) releaseCapacity() {
	m.mu.Lock()
	if m.pending > 0 {
		m.pending--
	}
	m.mu.Unlock()
}

func (m *Manager) sendHandshake(c *Connection) bool {
	payload, _ := protocol.ToPayload(protocol.HandshakePayload{
		APIVersion:   protocol.CurrentAPIVersion,
		Capabilities: protocol.DefaultCapabilities(),
		SenderInfo:   protocol.HandshakeActor{Type: "bridge", Version: protocol.CurrentAPIVersion},
	})
	env := protocol.NewEnvelope(protocol.MessageHandshake, "bridge", c.ID, protocol.PriorityHigh, payload)
	data, err := protocol.Encode(env)
	if err != nil {
		c.logger.Error("failed to encode handshake", logging.Error(err))
		return false
	}
	return c.enqueue(data)
}

func (m *Manager) readPump(c *Connection) {
	defer func() {
		m.removeConnection(c.ID, "read loop exited")
	}()

	waitDuration := m.connectionTimeout()
	if err := c.conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
		c.logger.Error("failed to set initial read deadline", logging.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.touchHeartbeat(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	handshakeDone := false
	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected websocket close", logging.Error(err))
			} else {
				c.logger.Debug("read loop terminating", logging.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("dropping non-text frame")
			continue
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
			c.logger.Error("failed to extend read deadline", logging.Error(err))
			return
		}
		c.touchHeartbeat(time.Now())

		env, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Debug("dropping malformed message", logging.Error(err))
			code := protocol.ErrCodeInvalidMessageFormat
			switch {
			case errors.Is(err, protocol.ErrMissingRequiredField):
				code = protocol.ErrCodeMissingRequiredField
			case errors.Is(err, protocol.ErrUnsupportedAPIVersion):
				code = protocol.ErrCodeUnsupportedAPIVersion
			}
			m.replyError(c, "", code, err.Error())
			continue
		}

		if !handshakeDone {
			if env.Header.MessageType != protocol.MessageHandshake {
				c.logger.Warn("first message was not a handshake; closing")
				return
			}
			handshakeDone = true
			c.setStatus(StatusConnected)
			if payload, err := protocol.PayloadAs[protocol.HandshakePayload](env); err == nil {
				if payload.SenderInfo.Type != "" {
					c.setRemoteIdentity(payload.SenderInfo.Type)
				}
			}
			m.notifyConnect(c)
			continue
		}

		m.dispatch(c, env)
	}
}

func (m *Manager) dispatch(c *Connection, env *protocol.Envelope) {
	m.handlersMu.RLock()
	handler, ok := m.handlers[env.Header.MessageType]
	m.handlersMu.RUnlock()
	if !ok {
		c.logger.Warn("no handler registered for message type", logging.String("message_type", string(env.Header.MessageType)))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				logging.String("message_type", string(env.Header.MessageType)),
				logging.Field{Key: "panic", Value: r})
			m.replyError(c, env.Header.MessageID, protocol.ErrCodeCommandProcessingFailed, "message handler panicked")
		}
	}()
	if err := handler(c, env); err != nil {
		m.replyError(c, env.Header.MessageID, protocol.ErrCodeCommandProcessingFailed, err.Error())
	}
}

func (m *Manager) replyError(c *Connection, correlationID, code, message string) {
	bridgeErr := protocol.NewBridgeError(code, message, correlationID)
	env := protocol.NewErrorEnvelope("bridge", c.ID, bridgeErr)
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (m *Manager) writePump(c *Connection) {
	pingTicker := time.NewTicker(m.heartbeatInterval())
	defer func() {
		pingTicker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", logging.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Error("write error", logging.Error(err))
				return
			}
		case <-pingTicker.C:
			if time.Since(c.LastHeartbeat()) > m.connectionTimeout() {
				c.logger.Warn("closing connection: heartbeat timeout")
				return
			}
			if err := m.sendHeartbeat(c); err != nil {
				c.logger.Warn("heartbeat send failure", logging.Error(err))
				return
			}
		}
	}
}

func (m *Manager) sendHeartbeat(c *Connection) error {
	metrics := protocol.SystemMetrics{ActiveConnections: m.ConnectionCount()}
	if m.metricsProvider != nil {
		metrics = m.metricsProvider()
		metrics.ActiveConnections = m.ConnectionCount()
	}
	payload, err := protocol.ToPayload(protocol.HeartbeatPayload{
		Status:        "alive",
		Timestamp:     time.Now().UTC(),
		SystemMetrics: metrics,
	})
	if err != nil {
		return err
	}
	env := protocol.NewEnvelope(protocol.MessageHeartbeat, "bridge", c.ID, protocol.PriorityLow, payload)
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

func (m *Manager) notifyConnect(c *Connection) {
	m.onConnectMu.RLock()
	defer m.onConnectMu.RUnlock()
	for _, fn := range m.onConnect {
		fn(c)
	}
}

func (m *Manager) removeConnection(connectionID, reason string) {
	m.mu.Lock()
	c, ok := m.connections[connectionID]
	if ok {
		delete(m.connections, connectionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.setStatus(StatusDisconnected)
	close(c.send)
	_ = c.conn.Close()
	c.logger.Info("connection closed", logging.String("reason", reason))

	m.onConnectMu.RLock()
	defer m.onConnectMu.RUnlock()
	for _, fn := range m.onDisconnect {
		fn(connectionID)
	}
}

// Disconnect forcibly closes connectionID, if present.
func (m *Manager) Disconnect(connectionID string) {
	m.removeConnection(connectionID, "forced disconnect")
}

// Send delivers env to connectionID, returning false if the connection is
// unknown or its outbound buffer is full.
func (m *Manager) Send(connectionID string, env *protocol.Envelope) bool {
	m.mu.RLock()
	c, ok := m.connections[connectionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := protocol.Encode(env)
	if err != nil {
		c.logger.Error("failed to encode outbound envelope", logging.Error(err))
		return false
	}
	if !c.enqueue(data) {
		c.logger.Warn("dropping outbound message: buffer full")
		return false
	}
	return true
}

// Broadcast delivers env to every connected client, skipping any whose
// outbound buffer is full rather than blocking.
func (m *Manager) Broadcast(env *protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Error("failed to encode broadcast envelope", logging.Error(err))
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.connections {
		if !c.enqueue(data) {
			c.logger.Warn("dropping broadcast message: buffer full")
		}
	}
}

// ConnectionCount reports the number of fully connected clients.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// SnapshotConnectionCounts satisfies httpapi.ReadinessProvider.
func (m *Manager) SnapshotConnectionCounts() (active, pending int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections), m.pending
}

// StartupError satisfies httpapi.ReadinessProvider.
func (m *Manager) StartupError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startupErr
}

// Uptime satisfies httpapi.ReadinessProvider.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	started := m.startedAt
	m.mu.RUnlock()
	return time.Since(started)
}

func (m *Manager) heartbeatInterval() time.Duration {
	if m.cfg.PingInterval <= 0 {
		return config.DefaultPingInterval
	}
	return m.cfg.PingInterval
}

func (m *Manager) connectionTimeout() time.Duration {
	if m.cfg.ConnectionTimeout <= 0 {
		return config.DefaultConnectionTimeout
	}
	return m.cfg.ConnectionTimeout
}

func buildOriginChecker(logger *logging.Logger, allowlist []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("ignoring invalid allowed origin", logging.String("origin", origin), logging.Error(err))
			continue
		}
		allowed[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}

	return func(r *http.Request) bool {
		originHeader := r.Header.Get("Origin")
		if originHeader == "" {
			return true
		}
		originURL, err := url.Parse(originHeader)
		if err != nil || originURL.Host == "" {
			logger.Warn("rejecting request with invalid origin", logging.String("origin", originHeader), logging.Error(err))
			return false
		}
		if _, ok := localHosts[originURL.Hostname()]; ok {
			return true
		}
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[strings.ToLower(originURL.Scheme+"://"+originURL.Host)]
		if !ok {
			logger.Warn("rejecting request from disallowed origin", logging.String("origin", originHeader))
		}
		return ok
	}
}
