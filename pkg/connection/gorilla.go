package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteWait        = 5 * time.Second
	closeWait               = time.Second
)

// WebsocketDialer dials WebSocket endpoints with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	Header           http.Header
}

var _ Dialer = WebsocketDialer{}

// Dial opens a WebSocket connection to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", url, err)
	}
	return &websocketTransport{conn: conn, writeWait: writeWait}, nil
}

type websocketTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	closeOnce sync.Once
	closeErr  error
}

func (t *websocketTransport) ReadMessage() (MessageKind, []byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	return MessageKind(kind), data, nil
}

func (t *websocketTransport) WriteMessage(kind MessageKind, data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(int(kind), data)
}

// Close sends a normal closure frame and closes the socket. Safe to call more
// than once.
func (t *websocketTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
