package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Handle is one subscriber's reference to a uuid's entry.
type Handle struct {
	token   id.SubscriberToken
	entry   *entry
	updates chan struct{}

	releaseOnce sync.Once
	closeOnce   sync.Once
	released    chan struct{}
}

func newHandle(e *entry) *Handle {
	return &Handle{
		token:    id.NewSubscriberToken(),
		entry:    e,
		updates:  make(chan struct{}, 1),
		released: make(chan struct{}),
	}
}

// Token identifies the subscription.
func (h *Handle) Token() id.SubscriberToken {
	return h.token
}

// UUID returns the logical execution context.
func (h *Handle) UUID() string {
	return h.entry.uuid
}

// View returns a copy of the entry's current state.
func (h *Handle) View() types.View {
	return h.entry.view()
}

// Updates signals that View may have changed. Signals coalesce: one
// pending signal stands for any number of changes. The channel is closed
// when the handle is released by Close or by teardown.
func (h *Handle) Updates() <-chan struct{} {
	return h.updates
}

// Done is closed when the handle is released.
func (h *Handle) Done() <-chan struct{} {
	return h.released
}

// Send writes a raw frame on the uuid's stream.
func (h *Handle) Send(ctx context.Context, data []byte) error {
	if err := h.check("send"); err != nil {
		return err
	}
	if err := h.entry.conn.Send(ctx, data); err != nil {
		err = types.NewSessionError(h.entry.uuid, "send", kindOr(err, types.ErrTransport), err)
		h.entry.recordError(err)
		return err
	}
	return nil
}

// Execute submits code and returns the msg_id of the request.
func (h *Handle) Execute(ctx context.Context, code string) (string, error) {
	if err := h.check("execute"); err != nil {
		return "", err
	}
	msgID, err := h.entry.session.Execute(ctx, code)
	if err != nil {
		h.entry.recordError(err)
		return "", err
	}
	h.entry.clearReloaded(ctx)
	return msgID, nil
}

// Interrupt asks the kernel to cancel the running execution.
func (h *Handle) Interrupt(ctx context.Context) error {
	if err := h.check("interrupt"); err != nil {
		return err
	}
	if err := h.entry.session.Interrupt(ctx); err != nil {
		h.entry.recordError(err)
		return err
	}
	return nil
}

// Restart restarts the kernel; the view reports busy until liveness is
// confirmed.
func (h *Handle) Restart(ctx context.Context) error {
	if err := h.check("restart"); err != nil {
		return err
	}
	err := h.entry.session.Restart(ctx)
	if err != nil {
		h.entry.recordError(err)
		return err
	}
	h.entry.notify()
	return nil
}

// Close unsubscribes the handle. It is idempotent.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.isReleased() {
			return
		}
		err = h.entry.reg.release(h.entry, h.token)
		if errors.Is(err, ErrUnknownSubscriber) && h.isReleased() {
			// lost a race with teardown
			err = nil
		}
	})
	return err
}

func (h *Handle) check(op string) error {
	if h.isReleased() {
		return types.NewSessionError(h.entry.uuid, op, types.ErrSessionClosed, nil)
	}
	return nil
}

func (h *Handle) isReleased() bool {
	select {
	case <-h.released:
		return true
	default:
		return false
	}
}

// signal is called with the entry lock held.
func (h *Handle) signal() {
	select {
	case h.updates <- struct{}{}:
	default:
	}
}

// release is called with the entry lock held.
func (h *Handle) release() {
	h.releaseOnce.Do(func() {
		close(h.released)
		close(h.updates)
	})
}
