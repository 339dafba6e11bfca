package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/utils"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

// Sender delivers an outgoing frame on the uuid's stream.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

var (
	errNoKernel  = errors.New("no kernel bound")
	errNoControl = errors.New("no control plane configured")
)

// Session is the lifecycle object for the kernel behind one uuid.
type Session struct {
	uuid    string
	control Control
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.RWMutex
	identity   types.KernelIdentity
	bound      bool
	restarting bool
}

// NewSession creates an unbound session. timeout bounds Execute sends.
func NewSession(uuid string, control Control, sender Sender, timeout time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	return &Session{
		uuid:    uuid,
		control: control,
		sender:  sender,
		timeout: timeout,
		logger:  logger.With(zap.String("uuid", uuid)),
	}
}

// UUID returns the logical execution context.
func (s *Session) UUID() string {
	return s.uuid
}

// Identity returns a copy of the current kernel identity.
func (s *Session) Identity() types.KernelIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Bound reports whether the session has been resolved to a kernel.
func (s *Session) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// Status derives the consumer-facing readiness.
func (s *Session) Status() types.KernelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() types.KernelStatus {
	switch {
	case s.restarting:
		return types.KernelStatusBusy
	case !s.bound:
		return types.KernelStatusUnknown
	case s.identity.Alive:
		return types.KernelStatusReady
	default:
		return types.KernelStatusDead
	}
}

// Resolve binds the session to the kernel in listing whose id equals the
// uuid, or refreshes the already bound kernel. A bound kernel missing from
// the listing is marked dead. It reports whether a match was found and
// counts as a liveness signal.
func (s *Session) Resolve(listing []types.KernelIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.uuid
	if s.bound {
		want = s.identity.ID
	}
	for _, k := range listing {
		if k.ID == want {
			s.identity = k
			s.bound = true
			s.restarting = false
			return true
		}
	}
	if s.bound {
		s.identity.Alive = false
		s.identity.ExecutionState = types.ExecutionStateDead
		s.restarting = false
	}
	return false
}

// Create starts a kernel named name and binds the session to it.
func (s *Session) Create(ctx context.Context, name string) (types.KernelIdentity, error) {
	if s.control == nil {
		return types.KernelIdentity{}, types.NewSessionError(s.uuid, "create", types.ErrKernelNotReady, errNoControl)
	}
	k, err := s.control.Create(ctx, name)
	if err != nil {
		return types.KernelIdentity{}, s.wrap("create", err)
	}
	s.Bind(k)
	s.logger.Info("Kernel created", zap.String("kernel_id", k.ID), zap.String("name", k.Name))
	return k, nil
}

// Bind sets the identity directly.
func (s *Session) Bind(k types.KernelIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = k
	s.bound = true
	s.restarting = false
}

// ObserveLiveness records a liveness signal such as a status frame. An
// unbound session binds to a kernel identified by its uuid, since a status
// frame on the uuid's stream proves one exists.
func (s *Session) ObserveLiveness(alive bool, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		s.identity.ID = s.uuid
		s.bound = true
	}
	s.identity.Alive = alive
	s.identity.ExecutionState = state
	s.restarting = false
}

// Execute sends an execute request over the stream and returns its msg_id.
// It does not wait for output. A kernel that is not alive, or is
// restarting, fails with types.ErrKernelNotReady before anything is sent.
func (s *Session) Execute(ctx context.Context, code string) (string, error) {
	if err := utils.ValidateCode(code); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	if st := s.Status(); st != types.KernelStatusReady {
		return "", types.NewSessionError(s.uuid, "execute", types.ErrKernelNotReady,
			fmt.Errorf("kernel is %s", st))
	}

	msgID := id.NewMessageID()
	data, err := stream.EncodeExecuteRequest(msgID, code)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.sender.Send(ctx, data); err != nil {
		return "", s.wrap("execute", classify(ctx, err))
	}
	s.logger.Debug("Execute request sent", zap.String("msg_id", msgID))
	return msgID, nil
}

// Interrupt requests cancellation of the running execution. It is allowed
// in any liveness state; the backend may already have finished.
func (s *Session) Interrupt(ctx context.Context) error {
	if s.control == nil {
		return types.NewSessionError(s.uuid, "interrupt", types.ErrKernelNotReady, errNoControl)
	}
	if !s.Bound() {
		return types.NewSessionError(s.uuid, "interrupt", types.ErrKernelNotReady, errNoKernel)
	}
	if err := s.control.Interrupt(ctx, s.Identity().ID); err != nil {
		return s.wrap("interrupt", err)
	}
	return nil
}

// Restart restarts the kernel. Status reports busy from the moment the
// request is issued until the next liveness signal.
func (s *Session) Restart(ctx context.Context) error {
	if s.control == nil {
		return types.NewSessionError(s.uuid, "restart", types.ErrKernelNotReady, errNoControl)
	}
	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return types.NewSessionError(s.uuid, "restart", types.ErrKernelNotReady, errNoKernel)
	}
	kernelID := s.identity.ID
	s.restarting = true
	s.mu.Unlock()

	if err := s.control.Restart(ctx, kernelID); err != nil {
		return s.wrap("restart", err)
	}
	s.logger.Info("Kernel restart requested", zap.String("kernel_id", kernelID))
	return nil
}

// wrap scopes err to the session. A definitive rejection marks the kernel
// not alive.
func (s *Session) wrap(op string, err error) error {
	kind := types.KindOf(err)
	if kind == nil {
		kind = types.ErrTransport
	}
	if kind == types.ErrBackendRejection {
		s.mu.Lock()
		s.identity.Alive = false
		s.restarting = false
		s.mu.Unlock()
	}
	s.logger.Warn("Kernel request failed", zap.String("op", op), zap.Error(err))
	return types.NewSessionError(s.uuid, op, kind, err)
}
