// Package kerneltest provides an in-memory kernel.Control for tests.
package kerneltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Control is a kernel.Control over a fixed set of kernels.
type Control struct {
	mu      sync.Mutex
	kernels map[string]types.KernelIdentity
	calls   []string
	err     error
}

// NewControl returns a Control listing ks.
func NewControl(ks ...types.KernelIdentity) *Control {
	c := &Control{kernels: make(map[string]types.KernelIdentity)}
	for _, k := range ks {
		c.kernels[k.ID] = k
	}
	return c
}

// Alive builds an idle kernel identity.
func Alive(id string) types.KernelIdentity {
	return types.KernelIdentity{ID: id, Name: "python3", Alive: true, ExecutionState: types.ExecutionStateIdle}
}

// Put adds or replaces a kernel.
func (c *Control) Put(k types.KernelIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernels[k.ID] = k
}

// SetError makes every call fail with err; nil restores normal behavior.
func (c *Control) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Calls returns the recorded calls as "method" or "method:id".
func (c *Control) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Control) List(context.Context) ([]types.KernelIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "list")
	if c.err != nil {
		return nil, c.err
	}
	out := make([]types.KernelIdentity, 0, len(c.kernels))
	for _, k := range c.kernels {
		out = append(out, k)
	}
	return out, nil
}

func (c *Control) Create(_ context.Context, name string) (types.KernelIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "create:"+name)
	if c.err != nil {
		return types.KernelIdentity{}, c.err
	}
	k := types.KernelIdentity{
		ID:             fmt.Sprintf("%s-%d", name, len(c.kernels)+1),
		Name:           name,
		Alive:          true,
		ExecutionState: types.ExecutionStateStarting,
	}
	c.kernels[k.ID] = k
	return k, nil
}

func (c *Control) Interrupt(_ context.Context, id string) error {
	return c.act("interrupt", id)
}

func (c *Control) Restart(_ context.Context, id string) error {
	return c.act("restart", id)
}

func (c *Control) act(method, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method+":"+id)
	if c.err != nil {
		return c.err
	}
	if _, ok := c.kernels[id]; !ok {
		return fmt.Errorf("%s %s: %w", method, id, types.ErrBackendRejection)
	}
	return nil
}
