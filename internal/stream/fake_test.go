package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	frames chan []byte
	fail   chan error
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	case c.writes <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns. When block is set, Dial waits for ctx;
// when failures > 0, Dial fails that many times first.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dials    int
	failures int
	block    bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects every callback.
type recorder struct {
	mu          sync.Mutex
	transitions []Transition
	frames      []Frame
	errs        []error
	reconnects  []time.Duration
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnTransition: func(t Transition) {
			r.mu.Lock()
			r.transitions = append(r.transitions, t)
			r.mu.Unlock()
		},
		OnFrame: func(f Frame) {
			r.mu.Lock()
			r.frames = append(r.frames, f)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnReconnect: func(_ int, d time.Duration) {
			r.mu.Lock()
			r.reconnects = append(r.reconnects, d)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]Transition, []Frame, []error, []time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...),
		append([]Frame(nil), r.frames...),
		append([]error(nil), r.errs...),
		append([]time.Duration(nil), r.reconnects...)
}

func (r *recorder) hasTransition(want Transition) bool {
	ts, _, _, _ := r.snapshot()
	for _, t := range ts {
		if t == want {
			return true
		}
	}
	return false
}

func fastOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		Backoff: resilience.Backoff{
			Initial: 5 * time.Millisecond,
			Max:     20 * time.Millisecond,
		},
	}
}

func waitState(t *testing.T, c *Connection, want types.StreamState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, time.Millisecond,
		"state never reached %s, stuck at %s", want, c.State())
}
