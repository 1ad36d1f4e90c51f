// ABOUTME: Transport-neutral connection handle with a bounded outbox.
// ABOUTME: Shared by the websocket and SSE transports and stored in the registry.

package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConnectionClosed is returned when sending to a connection that has gone away.
var ErrConnectionClosed = errors.New("connection closed")

const defaultOutboxSize = 16

// connection implements registry.Conn. Frames queue in the outbox and a
// transport-specific writer drains them.
type connection struct {
	id      string
	outbox  chan []byte
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newConnection(id string, outboxSize int, onClose func()) *connection {
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	return &connection{
		id:      id,
		outbox:  make(chan []byte, outboxSize),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (c *connection) ID() string { return c.id }

// Send queues frame for the writer. It waits for outbox room until ctx is done.
func (c *connection) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbox <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("outbox full: %w", ctx.Err())
	}
}

// Close marks the connection closed and tears down the transport once.
func (c *connection) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *connection) Done() <-chan struct{} { return c.done }
