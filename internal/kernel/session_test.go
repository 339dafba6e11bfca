package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

type fakeControl struct {
	mu         sync.Mutex
	kernels    []types.KernelIdentity
	interrupts []string
	restarts   []string
	err        error
}

func (f *fakeControl) List(context.Context) ([]types.KernelIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.KernelIdentity(nil), f.kernels...), f.err
}

func (f *fakeControl) Create(_ context.Context, name string) (types.KernelIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.KernelIdentity{}, f.err
	}
	k := types.KernelIdentity{ID: "created", Name: name, Alive: true, ExecutionState: types.ExecutionStateStarting}
	f.kernels = append(f.kernels, k)
	return k, nil
}

func (f *fakeControl) Interrupt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, id)
	return f.err
}

func (f *fakeControl) Restart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, id)
	return f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func alive(id string) types.KernelIdentity {
	return types.KernelIdentity{ID: id, Name: "python3", Alive: true, ExecutionState: types.ExecutionStateIdle}
}

func TestSessionResolve(t *testing.T) {
	s := NewSession("u1", &fakeControl{}, &fakeSender{}, 0, nil)
	assert.Equal(t, types.KernelStatusUnknown, s.Status())

	assert.False(t, s.Resolve([]types.KernelIdentity{alive("other")}))
	assert.False(t, s.Bound())
	assert.Equal(t, types.KernelStatusUnknown, s.Status())

	assert.True(t, s.Resolve([]types.KernelIdentity{alive("other"), alive("u1")}))
	assert.Equal(t, types.KernelStatusReady, s.Status())
	assert.Equal(t, "u1", s.Identity().ID)

	// bound kernel disappears from the listing
	assert.False(t, s.Resolve(nil))
	assert.Equal(t, types.KernelStatusDead, s.Status())
	assert.Equal(t, types.ExecutionStateDead, s.Identity().ExecutionState)
}

func TestSessionCreateBinds(t *testing.T) {
	s := NewSession("u1", &fakeControl{}, &fakeSender{}, 0, nil)

	k, err := s.Create(context.Background(), "python3")
	require.NoError(t, err)
	assert.Equal(t, "created", k.ID)
	assert.True(t, s.Bound())

	// later polls follow the created kernel's id, not the uuid
	assert.True(t, s.Resolve([]types.KernelIdentity{alive("created")}))
	assert.Equal(t, types.KernelStatusReady, s.Status())
}

func TestSessionExecute(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession("u1", &fakeControl{}, sender, 0, nil)

	_, err := s.Execute(context.Background(), "1+1")
	assert.ErrorIs(t, err, types.ErrKernelNotReady)
	assert.Zero(t, sender.count())

	s.Bind(alive("u1"))
	msgID, err := s.Execute(context.Background(), "1+1")
	require.NoError(t, err)
	require.Equal(t, 1, sender.count())

	assert.Contains(t, string(sender.sent[0]), `"msg_type":"execute_request"`)
	assert.Contains(t, string(sender.sent[0]), `"code":"1+1"`)
	assert.Contains(t, string(sender.sent[0]), msgID)
}

// stalledConn reads nothing and never finishes a write before ctx ends.
type stalledConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *stalledConn) ReadFrame() ([]byte, error) {
	<-c.closed
	return nil, errors.New("closed")
}

func (c *stalledConn) WriteFrame(ctx context.Context, _ []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.New("closed")
	}
}

func (c *stalledConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestSessionExecuteTimeoutIsRequestTimeout(t *testing.T) {
	conn := stream.NewConnection("u1", stream.DialerFunc(func(context.Context, string) (stream.Conn, error) {
		return &stalledConn{closed: make(chan struct{})}, nil
	}), stream.DefaultOptions(), stream.Handlers{})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()
	require.Eventually(t, func() bool { return conn.State() == types.StateOpen }, 2*time.Second, time.Millisecond)

	s := NewSession("u1", &fakeControl{}, conn, 50*time.Millisecond, nil)
	s.Bind(alive("u1"))

	_, err := s.Execute(context.Background(), "while True: pass")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
	assert.NotErrorIs(t, err, types.ErrTransport)
	assert.Equal(t, types.ErrRequestTimeout, types.KindOf(err))
	assert.Equal(t, 1, strings.Count(err.Error(), types.ErrRequestTimeout.Error()), err.Error())
}

func TestSessionExecuteRejectsOversizedCode(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession("u1", &fakeControl{}, sender, 0, nil)
	s.Bind(alive("u1"))

	_, err := s.Execute(context.Background(), strings.Repeat("x", 600*1024))
	assert.Error(t, err)
	assert.Zero(t, sender.count())
}

func TestSessionExecuteSendFailure(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("send: %w", types.ErrNotConnected)}
	s := NewSession("u1", &fakeControl{}, sender, 0, nil)
	s.Bind(alive("u1"))

	_, err := s.Execute(context.Background(), "print(1)")
	assert.ErrorIs(t, err, types.ErrNotConnected)

	var se *types.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "u1", se.UUID)
	assert.Equal(t, "execute", se.Op)
	// a stream failure says nothing about the kernel
	assert.Equal(t, types.KernelStatusReady, s.Status())
}

// A restart leaves the kernel busy until a liveness signal arrives.
func TestSessionRestartBusyUntilLiveness(t *testing.T) {
	control := &fakeControl{}
	sender := &fakeSender{}
	s := NewSession("u1", control, sender, 0, nil)
	s.Bind(alive("k1"))

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, []string{"k1"}, control.restarts)
	assert.Equal(t, types.KernelStatusBusy, s.Status())

	_, err := s.Execute(context.Background(), "x = 1")
	assert.ErrorIs(t, err, types.ErrKernelNotReady)
	assert.Zero(t, sender.count())

	s.ObserveLiveness(true, types.ExecutionStateIdle)
	assert.Equal(t, types.KernelStatusReady, s.Status())

	_, err = s.Execute(context.Background(), "x = 1")
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count())
}

func TestSessionRestartClearedByPoll(t *testing.T) {
	s := NewSession("u1", &fakeControl{}, &fakeSender{}, 0, nil)
	s.Bind(alive("u1"))

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, types.KernelStatusBusy, s.Status())

	s.Resolve([]types.KernelIdentity{alive("u1")})
	assert.Equal(t, types.KernelStatusReady, s.Status())
}

func TestSessionRejectionMarksDead(t *testing.T) {
	control := &fakeControl{err: fmt.Errorf("%w: status 404", types.ErrBackendRejection)}
	s := NewSession("u1", control, &fakeSender{}, 0, nil)
	s.Bind(alive("u1"))

	err := s.Restart(context.Background())
	assert.ErrorIs(t, err, types.ErrBackendRejection)
	assert.Equal(t, types.KernelStatusDead, s.Status())
}

func TestSessionTransportFailureKeepsBusy(t *testing.T) {
	control := &fakeControl{err: fmt.Errorf("%w: connection reset", types.ErrTransport)}
	s := NewSession("u1", control, &fakeSender{}, 0, nil)
	s.Bind(alive("u1"))

	assert.ErrorIs(t, s.Restart(context.Background()), types.ErrTransport)
	assert.Equal(t, types.KernelStatusBusy, s.Status())
}

func TestSessionInterrupt(t *testing.T) {
	control := &fakeControl{}
	s := NewSession("u1", control, &fakeSender{}, 0, nil)

	assert.ErrorIs(t, s.Interrupt(context.Background()), types.ErrKernelNotReady)

	// permitted even when the kernel is dead
	s.Bind(types.KernelIdentity{ID: "k1", Alive: false, ExecutionState: types.ExecutionStateDead})
	require.NoError(t, s.Interrupt(context.Background()))
	assert.Equal(t, []string{"k1"}, control.interrupts)

	control.err = fmt.Errorf("%w: timed out", types.ErrRequestTimeout)
	err := s.Interrupt(context.Background())
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
}

func TestSessionExecuteOverConnection(t *testing.T) {
	// Connection satisfies Sender; a never-connected one refuses to send.
	conn := stream.NewConnection("u1", stream.DialerFunc(func(context.Context, string) (stream.Conn, error) {
		return nil, fmt.Errorf("unused")
	}), stream.DefaultOptions(), stream.Handlers{})
	s := NewSession("u1", &fakeControl{}, conn, 0, nil)
	s.Bind(alive("u1"))

	_, err := s.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, types.ErrNotConnected)
	require.NoError(t, conn.Close())
}

func TestSessionWithoutControl(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession("u1", nil, sender, 0, nil)

	assert.ErrorIs(t, s.Interrupt(context.Background()), types.ErrKernelNotReady)
	assert.ErrorIs(t, s.Restart(context.Background()), types.ErrKernelNotReady)

	// a status frame on the stream is enough to execute
	s.ObserveLiveness(true, types.ExecutionStateIdle)
	assert.Equal(t, "u1", s.Identity().ID)
	_, err := s.Execute(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count())
}
