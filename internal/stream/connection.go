package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Frame is one inbound frame. Arrival tags transport order only; it says
// nothing about backend emission order.
type Frame struct {
	UUID       string
	Data       []byte
	Arrival    uint64
	ReceivedAt time.Time
}

// Handlers receive connection events. All callbacks for a Connection are
// delivered one at a time in a single order. Callbacks may read State but
// must not call Connect or Close.
type Handlers struct {
	OnFrame      func(Frame)
	OnTransition func(Transition)
	// OnError receives transport failures, wrapped with types.ErrTransport
	OnError func(error)
	// OnReconnect fires when a reconnect is scheduled after delay
	OnReconnect func(attempt int, delay time.Duration)
}

// Options configures a Connection.
type Options struct {
	ConnectTimeout time.Duration
	Backoff        resilience.Backoff
	// MaxReconnects bounds consecutive failed attempts; 0 means unlimited
	MaxReconnects int
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
}

// DefaultOptions returns options with a 10s connect timeout and the default
// backoff.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		Backoff:        resilience.DefaultBackoff(),
	}
}

// Connection owns the transport for one uuid.
type Connection struct {
	uuid     string
	dialer   Dialer
	opts     Options
	handlers Handlers
	logger   *zap.Logger

	mu         sync.Mutex
	state      types.StreamState
	generation uint64
	conn       Conn
	cancel     context.CancelFunc
	arrival    uint64
	pending    []event

	// emitMu serializes dispatch of pending events
	emitMu sync.Mutex
	wg     sync.WaitGroup
}

type eventKind int

const (
	eventTransition eventKind = iota
	eventFrame
	eventError
	eventReconnect
)

type event struct {
	kind       eventKind
	transition Transition
	frame      Frame
	err        error
	attempt    int
	delay      time.Duration
}

// NewConnection creates a Connection in the uninstantiated state.
func NewConnection(uuid string, dialer Dialer, opts Options, handlers Handlers) *Connection {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		uuid:     uuid,
		dialer:   dialer,
		opts:     opts,
		handlers: handlers,
		logger:   logger.With(zap.String("session", uuid)),
		state:    types.StateUninstantiated,
	}
}

// UUID returns the logical uuid.
func (c *Connection) UUID() string {
	return c.uuid
}

// State returns the current state.
func (c *Connection) State() types.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the current transport generation, 0 before the first
// Connect.
func (c *Connection) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Connect starts connecting in the background. It is a no-op while
// connecting or open. ctx is not retained; the connection lives until Close.
func (c *Connection) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case types.StateConnecting, types.StateOpen:
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		// a reconnect may be pending from the previous failure
		c.cancel()
	}
	life, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.beginGenerationLocked()
	gen := c.generation
	c.wg.Add(1)
	go c.run(life, gen)
	c.mu.Unlock()

	c.flush()
	return nil
}

// Send writes data on the open transport. Outside the open state it fails
// with types.ErrNotConnected.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if c.state != types.StateOpen || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connection is %s", types.ErrNotConnected, state)
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteFrame(ctx, data); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: send: %w", types.ErrRequestTimeout, err)
		}
		return fmt.Errorf("%w: send: %w", types.ErrTransport, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Close shuts the connection down, cancels any pending reconnect and waits
// for background work to stop. It must not be called from a Handlers
// callback.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	var closeErr error
	switch c.state {
	case types.StateConnecting:
		c.setStateLocked(types.StateClosed)
	case types.StateOpen:
		c.setStateLocked(types.StateClosing)
		closeErr = c.releaseLocked()
		c.setStateLocked(types.StateClosed)
	}
	c.mu.Unlock()

	c.flush()
	c.wg.Wait()
	return closeErr
}

// run drives one connection lifetime: dial, read until failure, back off,
// and start the next generation until life is cancelled.
func (c *Connection) run(life context.Context, gen uint64) {
	defer c.wg.Done()

	attempt := 0
	for {
		wasOpen, err := c.dialAndRead(life, gen)
		if life.Err() != nil || !c.fail(life, gen, err) {
			return
		}

		if wasOpen {
			attempt = 0
		}
		attempt++
		if c.opts.MaxReconnects > 0 && attempt > c.opts.MaxReconnects {
			c.logger.Warn("Giving up reconnecting",
				zap.Int("attempts", attempt-1),
				zap.Error(err))
			return
		}

		delay := c.opts.Backoff.Delay(attempt - 1)
		c.logger.Info("Scheduling reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		c.opts.Metrics.RecordReconnect()
		if !c.post(life, gen, event{kind: eventReconnect, attempt: attempt, delay: delay}) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, ok := c.nextGeneration(life, gen)
		if !ok {
			return
		}
		gen = next
	}
}

// dialAndRead reports whether generation gen reached open and the error
// that ended it.
func (c *Connection) dialAndRead(life context.Context, gen uint64) (bool, error) {
	dialCtx, cancel := context.WithTimeout(life, c.opts.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.uuid)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if timedOut {
			return false, fmt.Errorf("connect timeout after %s: %w", c.opts.ConnectTimeout, err)
		}
		return false, err
	}

	if !c.open(life, gen, conn) {
		conn.Close()
		return false, nil
	}

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return true, err
		}
		c.mu.Lock()
		c.arrival++
		frame := Frame{
			UUID:       c.uuid,
			Data:       data,
			Arrival:    c.arrival,
			ReceivedAt: time.Now(),
		}
		c.mu.Unlock()
		if !c.post(life, gen, event{kind: eventFrame, frame: frame}) {
			return true, nil
		}
	}
}

func (c *Connection) open(life context.Context, gen uint64, conn Conn) bool {
	c.mu.Lock()
	if life.Err() != nil || c.generation != gen || c.state != types.StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.setStateLocked(types.StateOpen)
	c.mu.Unlock()

	c.logger.Debug("Stream open", zap.Uint64("generation", gen))
	c.flush()
	return true
}

// fail closes generation gen after a transport failure. It returns false if
// the generation was already superseded or closed deliberately.
func (c *Connection) fail(life context.Context, gen uint64, cause error) bool {
	c.mu.Lock()
	if life.Err() != nil || c.generation != gen {
		c.mu.Unlock()
		return false
	}
	if c.state != types.StateConnecting && c.state != types.StateOpen {
		c.mu.Unlock()
		return false
	}
	if cause == nil {
		cause = errors.New("transport closed")
	}

	from := c.state
	c.releaseLocked()
	c.setStateLocked(types.StateClosed)
	c.pending = append(c.pending, event{
		kind: eventError,
		err:  fmt.Errorf("%w: %w", types.ErrTransport, cause),
	})
	c.mu.Unlock()

	c.logger.Warn("Stream failed",
		zap.Uint64("generation", gen),
		zap.String("from", from.String()),
		zap.Error(cause))
	c.flush()
	return true
}

// post queues ev if generation gen is still current.
func (c *Connection) post(life context.Context, gen uint64, ev event) bool {
	c.mu.Lock()
	if life.Err() != nil || c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, ev)
	c.mu.Unlock()

	c.flush()
	return true
}

func (c *Connection) nextGeneration(life context.Context, gen uint64) (uint64, bool) {
	c.mu.Lock()
	if life.Err() != nil || c.generation != gen || c.state != types.StateClosed {
		c.mu.Unlock()
		return 0, false
	}
	c.beginGenerationLocked()
	next := c.generation
	c.mu.Unlock()

	c.flush()
	return next, true
}

// beginGenerationLocked moves to connecting, starting a new generation.
func (c *Connection) beginGenerationLocked() {
	c.generation++
	c.setStateLocked(types.StateConnecting)
}

func (c *Connection) setStateLocked(to types.StreamState) {
	t := Transition{From: c.state, To: to, Generation: c.generation}
	c.state = to
	c.pending = append(c.pending, event{kind: eventTransition, transition: t})
	c.opts.Metrics.RecordTransition(t.From.String(), t.To.String())
}

func (c *Connection) releaseLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// flush dispatches queued events in order, outside mu.
func (c *Connection) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		ev := c.pending[0]
		c.pending[0] = event{}
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.dispatch(ev)
	}
}

func (c *Connection) dispatch(ev event) {
	switch ev.kind {
	case eventTransition:
		if c.handlers.OnTransition != nil {
			c.handlers.OnTransition(ev.transition)
		}
	case eventFrame:
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(ev.frame)
		}
	case eventError:
		if c.handlers.OnError != nil {
			c.handlers.OnError(ev.err)
		}
	case eventReconnect:
		if c.handlers.OnReconnect != nil {
			c.handlers.OnReconnect(ev.attempt, ev.delay)
		}
	}
}
