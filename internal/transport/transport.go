// Package transport is the boundary to the persistent connection. The rest of
// the client only sees the Transport interface; tests swap in a fake.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport closed")

type Transport interface {
	// Dial opens the connection. credential may be empty for anonymous play.
	Dial(ctx context.Context, credential string) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
	// Send writes one frame. Frames go out in call order.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for the next inbound frame. Returns ErrClosed after a
	// clean close, the underlying error otherwise.
	Receive(ctx context.Context) ([]byte, error)
}
