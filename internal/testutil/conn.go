package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// ErrInjected is the transport error returned by a RecordingConn configured to fail.
var ErrInjected = errors.New("injected send failure")

// RecordingConn is an in-memory connection handle that records every frame sent to it.
type RecordingConn struct {
	mu      sync.Mutex
	frames  [][]byte
	open    bool
	failing bool
	closes  int
}

// NewRecordingConn returns an open RecordingConn.
func NewRecordingConn() *RecordingConn {
	return &RecordingConn{open: true}
}

// Send records data, or returns ErrInjected when the conn is set to fail.
func (c *RecordingConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return ErrInjected
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

// IsOpen reports the configured liveness.
func (c *RecordingConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close marks the conn closed and counts the call.
func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closes++
	return nil
}

// SetOpen overrides liveness without counting a Close.
func (c *RecordingConn) SetOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

// SetFailing makes subsequent sends fail while the conn still reports open.
func (c *RecordingConn) SetFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = failing
}

// Closes returns how many times Close was called.
func (c *RecordingConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Frames returns a copy of every recorded frame.
func (c *RecordingConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Messages decodes every recorded frame as a JSON object.
func (c *RecordingConn) Messages(t *testing.T) []map[string]interface{} {
	t.Helper()
	frames := c.Frames()
	out := make([]map[string]interface{}, 0, len(frames))
	for _, f := range frames {
		var m map[string]interface{}
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("decoding frame %q: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

// OfType returns the recorded messages whose "type" equals typ.
func (c *RecordingConn) OfType(t *testing.T, typ string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, m := range c.Messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recently recorded message, failing the test if there is none.
func (c *RecordingConn) Last(t *testing.T) map[string]interface{} {
	t.Helper()
	msgs := c.Messages(t)
	if len(msgs) == 0 {
		t.Fatalf("no frames recorded")
	}
	return msgs[len(msgs)-1]
}

// Reset discards recorded frames.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
