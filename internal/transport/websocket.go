package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// WS speaks the battle protocol over a websocket.
type WS struct {
	url string
	log *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWS(url string, log *zap.Logger) *WS {
	return &WS{url: url, log: log}
}

func (t *WS) Dial(ctx context.Context, credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	var opts *websocket.DialOptions
	if credential != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+credential)
		opts = &websocket.DialOptions{HTTPHeader: h}
	}

	conn, _, err := websocket.Dial(ctx, t.url, opts)
	if err != nil {
		return err
	}
	t.conn = conn
	t.log.Info("websocket open", zap.String("url", t.url))
	return nil
}

func (t *WS) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

func (t *WS) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

func (t *WS) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		// Treat clean close/going-away as normal:
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, ErrClosed
		}
		return nil, err
	}
	return data, nil
}
