// Package session provides the live session registry and lobby membership
// tracking for the relay.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConnClosed is returned by Send on a closed connection handle.
var ErrConnClosed = errors.New("connection closed")

// Conn is the transport-facing handle owned by a Session.
type Conn interface {
	// Send queues data for delivery to the peer.
	Send(data []byte) error
	// IsOpen reports whether the handle can still accept sends.
	IsOpen() bool
	// Close releases the handle. It must be idempotent.
	Close() error
}

// QueueConn is a Conn that buffers outbound frames on a Go channel. A transport
// goroutine drains Frames and writes each frame to the wire.
type QueueConn struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewQueueConn creates a QueueConn with room for bufferSize pending frames.
//
// Precondition: id should identify the underlying transport connection.
// Postcondition: Returns an open QueueConn.
func NewQueueConn(id string, bufferSize int) *QueueConn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &QueueConn{
		id:     id,
		frames: make(chan []byte, bufferSize),
	}
}

// ID returns the transport connection identifier.
func (c *QueueConn) ID() string {
	return c.id
}

// Send enqueues data without blocking.
//
// Postcondition: data is queued, or an error is returned if the handle is closed or its buffer is full.
func (c *QueueConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("conn %s: %w", c.id, ErrConnClosed)
	}
	select {
	case c.frames <- data:
		return nil
	default:
		return fmt.Errorf("conn %s send buffer full", c.id)
	}
}

// Frames returns the read side of the outbound queue. It is closed by Close.
func (c *QueueConn) Frames() <-chan []byte {
	return c.frames
}

// IsOpen reports whether Close has not yet been called.
func (c *QueueConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close marks the handle closed and closes the frame channel.
//
// Postcondition: Further Send calls fail with ErrConnClosed.
func (c *QueueConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}
