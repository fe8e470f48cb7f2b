package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/protocol"
)

func newTestManager(t *testing.T, cfg config.Config) (*Manager, *httptest.Server) {
	t.Helper()
	m := NewManager(cfg, logging.NewTestLogger())
	srv := httptest.NewServer(m.UpgradeHandler())
	t.Cleanup(srv.Close)
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return env
}

func clientHandshake(sender string) *protocol.Envelope {
	payload, _ := protocol.ToPayload(protocol.HandshakePayload{
		APIVersion:   protocol.CurrentAPIVersion,
		Capabilities: protocol.DefaultCapabilities(),
		SenderInfo:   protocol.HandshakeActor{Type: sender, Version: protocol.CurrentAPIVersion},
	})
	return protocol.NewEnvelope(protocol.MessageHandshake, sender, "bridge", protocol.PriorityHigh, payload)
}

func TestServerSendsHandshakeOnAccept(t *testing.T) {
	_, srv := newTestManager(t, config.Config{MaxConnections: 10})
	conn := dial(t, srv)

	env := readEnvelope(t, conn)
	if env.Header.MessageType != protocol.MessageHandshake {
		t.Fatalf("expected handshake, got %s", env.Header.MessageType)
	}
}

func TestClientHandshakeTriggersOnConnect(t *testing.T) {
	m, srv := newTestManager(t, config.Config{MaxConnections: 10})
	connected := make(chan string, 1)
	m.OnConnect(func(c *Connection) { connected <- c.ID })

	conn := dial(t, srv)
	readEnvelope(t, conn) // server handshake

	env := clientHandshake("game-engine")
	data, _ := protocol.Encode(env)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnect callback")
	}

	if got := m.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 active connection, got %d", got)
	}
}

func TestCapacityRefusesBeyondMaxConnections(t *testing.T) {
	_, srv := newTestManager(t, config.Config{MaxConnections: 1})

	first := dial(t, srv)
	readEnvelope(t, first)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, httpResp, dialErr := websocket.DefaultDialer.Dial(url, nil)
	if dialErr == nil {
		t.Fatal("expected second dial to be refused")
	}
	if httpResp != nil && httpResp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", httpResp.StatusCode)
	}
}

func TestDispatchRoutesRegisteredHandler(t *testing.T) {
	m, srv := newTestManager(t, config.Config{MaxConnections: 10})
	received := make(chan *protocol.Envelope, 1)
	m.RegisterHandler(protocol.MessageTurnAdvance, func(c *Connection, env *protocol.Envelope) error {
		received <- env
		return nil
	})

	conn := dial(t, srv)
	readEnvelope(t, conn)

	handshake := clientHandshake("political-engine")
	data, _ := protocol.Encode(handshake)
	conn.WriteMessage(websocket.TextMessage, data)
	time.Sleep(50 * time.Millisecond)

	advance := protocol.NewEnvelope(protocol.MessageTurnAdvance, "political-engine", "bridge", protocol.PriorityNormal, map[string]any{})
	data, _ = protocol.Encode(advance)
	conn.WriteMessage(websocket.TextMessage, data)

	select {
	case env := <-received:
		if env.Header.MessageType != protocol.MessageTurnAdvance {
			t.Fatalf("unexpected message type %s", env.Header.MessageType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched handler")
	}
}

func TestBroadcastWithNoConnectionsDoesNotPanic(t *testing.T) {
	m, _ := newTestManager(t, config.Config{MaxConnections: 10})
	env := protocol.NewEnvelope(protocol.MessageHeartbeat, "bridge", "", protocol.PriorityLow, map[string]any{})
	m.Broadcast(env) // no connections yet; must not panic
}

func TestSendUnknownConnectionReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t, config.Config{MaxConnections: 10})
	env := protocol.NewEnvelope(protocol.MessageHeartbeat, "bridge", "nope", protocol.PriorityLow, map[string]any{})
	if m.Send("nope", env) {
		t.Fatal("expected Send to unknown connection to fail")
	}
}
