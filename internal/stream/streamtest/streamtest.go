// Package streamtest provides an in-memory stream.Dialer for tests of
// packages built on top of stream connections.
package streamtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

// ErrClosed is returned by a Conn after Close.
var ErrClosed = errors.New("streamtest: conn closed")

// Conn is an in-memory stream.Conn. Frames pushed with Push are read by the
// connection; frames the connection writes are kept for inspection.
type Conn struct {
	frames chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		frames: make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *Conn) WriteFrame(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Push queues an inbound frame.
func (c *Conn) Push(frame []byte) {
	c.frames <- frame
}

// PushMessages queues one batch frame carrying msgs.
func (c *Conn) PushMessages(msgs ...types.OutputMessage) error {
	data, err := stream.EncodeBatch(stream.KindBatch, msgs)
	if err != nil {
		return err
	}
	c.Push(data)
	return nil
}

// PushStatus queues a liveness frame.
func (c *Conn) PushStatus(executionState string) error {
	data, err := stream.EncodeStatus("status-"+executionState, executionState)
	if err != nil {
		return err
	}
	c.Push(data)
	return nil
}

// Fail makes the pending or next ReadFrame return err.
func (c *Conn) Fail(err error) {
	select {
	case c.fail <- err:
	default:
	}
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written returns copies of the frames written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// Dialer hands out a new Conn per Dial and remembers them per uuid.
type Dialer struct {
	mu    sync.Mutex
	conns map[string][]*Conn
	err   error
}

// NewDialer returns an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string][]*Conn)}
}

func (d *Dialer) Dial(ctx context.Context, uuid string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := NewConn()
	d.conns[uuid] = append(d.conns[uuid], conn)
	return conn, nil
}

// SetError makes subsequent dials fail with err; nil restores them.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Dials returns how many connections were opened for uuid.
func (d *Dialer) Dials(uuid string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns[uuid])
}

// Last returns the newest Conn of uuid, or nil.
func (d *Dialer) Last(uuid string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[uuid]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Wait polls until uuid has at least n connections or timeout passes.
func (d *Dialer) Wait(uuid string, n int, timeout time.Duration) *Conn {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		conns := d.conns[uuid]
		if len(conns) >= n {
			conn := conns[n-1]
			d.mu.Unlock()
			return conn
		}
		d.mu.Unlock()
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
}
