package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType distinguishes audio from control messages.
type MessageType int

const (
	BinaryMessage MessageType = iota
	TextMessage
)

// Transport is one client connection. ReadMessage blocks until a message
// arrives or the transport is closed; Close unblocks a pending read.
// Send may be called concurrently with ReadMessage.
type Transport interface {
	ReadMessage() (MessageType, []byte, error)
	Send(ctx context.Context, v any) error
	Close() error
	RemoteAddr() string
}

const writeWait = 10 * time.Second

// wsTransport adapts a gorilla websocket connection.
type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, readLimit int64) *wsTransport {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() (MessageType, []byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch kind {
		case websocket.BinaryMessage:
			return BinaryMessage, data, nil
		case websocket.TextMessage:
			return TextMessage, data, nil
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return t.conn.WriteJSON(v)
}

// Close sends a close frame when possible and closes the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
