package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/storage"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	frames chan []byte
	fail   chan error
	mu     sync.Mutex
	writes [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		fail:   make(chan error, 1),
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

func (c *fakeConn) WriteFrame(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
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

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string][]*fakeConn)}
}

func (d *fakeDialer) Dial(_ context.Context, uuid string) (stream.Conn, error) {
	conn := newFakeConn()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.conns[uuid] = append(d.conns[uuid], conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last(uuid string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[uuid]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// waitConn waits for the n-th connection of uuid.
func (d *fakeDialer) waitConn(t *testing.T, uuid string, n int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.conns[uuid]) >= n
	}, 2*time.Second, time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[uuid][n-1]
}

type fakeControl struct {
	mu      sync.Mutex
	kernels []types.KernelIdentity
	lists   int
	err     error
}

func (f *fakeControl) set(ks ...types.KernelIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kernels = ks
}

func (f *fakeControl) List(context.Context) ([]types.KernelIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]types.KernelIdentity(nil), f.kernels...), f.err
}

func (f *fakeControl) Create(_ context.Context, name string) (types.KernelIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := types.KernelIdentity{ID: "auto-" + name, Name: name, Alive: true, ExecutionState: types.ExecutionStateIdle}
	f.kernels = append(f.kernels, k)
	return k, nil
}

func (f *fakeControl) Interrupt(context.Context, string) error { return nil }
func (f *fakeControl) Restart(context.Context, string) error   { return nil }

func alive(id string) types.KernelIdentity {
	return types.KernelIdentity{ID: id, Name: "python3", Alive: true, ExecutionState: types.ExecutionStateIdle}
}

func msg(id, payload string) types.OutputMessage {
	return types.OutputMessage{MsgID: id, MsgType: types.MsgTypeStream, Payload: json.RawMessage(payload)}
}

func batchFrame(t *testing.T, kind stream.FrameKind, msgs ...types.OutputMessage) []byte {
	t.Helper()
	data, err := stream.EncodeBatch(kind, msgs)
	require.NoError(t, err)
	return data
}

func statusFrame(t *testing.T, state string) []byte {
	t.Helper()
	data, err := stream.EncodeStatus("status-"+state, state)
	require.NoError(t, err)
	return data
}

type harness struct {
	reg       *Registry
	dialer    *fakeDialer
	control   *fakeControl
	store     *storage.MemoryStore
	snapshots *storage.Snapshots
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:  newFakeDialer(),
		control: &fakeControl{},
		store:   storage.NewMemoryStore(),
	}
	h.snapshots = storage.NewSnapshots(h.store, storage.DefaultCodec(), nil)

	opts := Options{
		Control:          h.control,
		Dialer:           h.dialer,
		Snapshots:        h.snapshots,
		KernelName:       "python3",
		GracePeriod:      time.Hour,
		SnapshotDebounce: 10 * time.Millisecond,
		Stream: stream.Options{
			ConnectTimeout: time.Second,
			Backoff: resilience.Backoff{
				Initial: 5 * time.Millisecond,
				Max:     20 * time.Millisecond,
			},
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.reg = New(opts)
	t.Cleanup(func() { _ = h.reg.Close(context.Background()) })
	return h
}

func waitView(t *testing.T, h *Handle, cond func(types.View) bool, msgAndArgs ...any) types.View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.View()) }, 2*time.Second, time.Millisecond, msgAndArgs...)
	return h.View()
}

func msgIDs(v types.View) []string {
	ids := make([]string, len(v.Events))
	for i, m := range v.Events {
		ids[i] = m.MsgID
	}
	return ids
}
