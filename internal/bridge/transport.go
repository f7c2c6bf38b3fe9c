package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live transport connection.
type Conn interface {
	// Read blocks for the next message.
	Read() ([]byte, error)
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the transport over gorilla/websocket.
type WebsocketDialer struct {
	Dialer   *websocket.Dialer
	PongWait time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge: dial: %w", err)
	}
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = 30 * time.Second
	}
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{c: c, pongWait: pongWait}, nil
}

type wsConn struct {
	c        *websocket.Conn
	pongWait time.Duration
	wmu      sync.Mutex
}

func (w *wsConn) Read() ([]byte, error) {
	w.c.SetReadDeadline(time.Now().Add(w.pongWait))
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteJSON(v any) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteJSON(v)
}

// Ping may run concurrently with WriteJSON; control frames have their own lock in gorilla.
func (w *wsConn) Ping() error {
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
