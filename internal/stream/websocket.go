package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame when the caller's context has no deadline
	defaultWriteWait = 10 * time.Second
	// Maximum inbound frame size
	maxFrameSize = 16 << 20
)

// WebSocketDialer opens gorilla/websocket transports.
type WebSocketDialer struct {
	// URL is an endpoint template, see Endpoint
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for the given endpoint template.
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url}
}

func (d *WebSocketDialer) Dial(ctx context.Context, uuid string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, Endpoint(d.URL, uuid), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)

	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn

	// gorilla allows one concurrent writer
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	c.writeMu.Lock()
	if err := ctx.Err(); err != nil {
		c.writeMu.Unlock()
		return err
	}
	err := c.ws.SetWriteDeadline(deadline)
	if err == nil {
		err = c.ws.WriteMessage(websocket.TextMessage, data)
	}
	c.writeMu.Unlock()

	if err != nil {
		// gorilla fails every later write after one error; dropping the
		// socket ends ReadFrame so the connection reconnects
		c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	}
	return err
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
