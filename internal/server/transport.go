package server

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/wernicke/internal/session"
)

// wsTransport adapts a coder/websocket connection to [session.Transport].
// Writes are mutex-guarded because the session's read loop and its final
// delivery goroutines send concurrently.
type wsTransport struct {
	conn *websocket.Conn

	mu sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Receive reads one frame. Text frames are returned with Binary=false so
// the session can reject them without tearing the connection down.
func (t *wsTransport) Receive(ctx context.Context) (session.Message, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return session.Message{}, err
	}
	return session.Message{
		Binary: typ == websocket.MessageBinary,
		Data:   data,
	}, nil
}

// Send marshals v as one JSON text frame.
func (t *wsTransport) Send(ctx context.Context, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return wsjson.Write(ctx, t.conn, v)
}

var _ session.Transport = (*wsTransport)(nil)
