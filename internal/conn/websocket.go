package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Timeout for the WebSocket handshake.
	handshakeTimeout = 10 * time.Second

	// Maximum message size allowed from the peer.
	maxMessageSize = 512 * 1024
)

// WebsocketTransport carries frames over a WebSocket connection to the
// orchestrator. The session identity travels in the connection URI query.
type WebsocketTransport struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketTransport builds a transport for the given server URL,
// parameterized with the session and user identifiers.
func NewWebsocketTransport(serverURL, sessionID, userID string) (*WebsocketTransport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	return &WebsocketTransport{url: u.String()}, nil
}

// Open dials the server and starts the read loop.
func (t *WebsocketTransport) Open(ctx context.Context, onMessage func([]byte), onClose func(error)) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	t.mu.Lock()
	if t.conn != nil {
		// A stale handle from an earlier open must not outlive its
		// replacement.
		_ = t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn, onMessage, onClose)
	return nil
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn, onMessage func([]byte), onClose func(error)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Release the handle before reporting the close; the manager may
			// dial a fresh connection from its close path and the dead socket
			// must not linger for the rest of the session.
			_ = conn.Close()
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			onClose(err)
			return
		}
		onMessage(data)
	}
}

// Send writes one text frame. Writes are serialized; gorilla/websocket allows
// only one concurrent writer.
func (t *WebsocketTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.New("transport not open")
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	err := t.conn.Close()
	t.conn = nil
	return err
}
