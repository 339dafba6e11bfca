package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransport        = errors.New("transport error")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrKernelNotReady   = errors.New("kernel not ready")
	ErrBackendRejection = errors.New("backend rejection")
	ErrNotConnected     = errors.New("not connected")
	ErrSessionClosed    = errors.New("session torn down")
	ErrRegistryClosed   = errors.New("registry closed")
)

// SessionError scopes an error to a uuid and operation. errors.Is matches
// both Kind and the underlying cause.
type SessionError struct {
	UUID string
	Op   string
	Kind error
	Err  error
	At   time.Time
}

// NewSessionError builds a SessionError stamped with the current time.
func NewSessionError(uuid, op string, kind, err error) *SessionError {
	return &SessionError{UUID: uuid, Op: op, Kind: kind, Err: err, At: time.Now()}
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.UUID, e.Op, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s %s: %v", e.UUID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.UUID, e.Op, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the taxonomy sentinel matched by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrKernelNotReady,
		ErrNotConnected,
		ErrBackendRejection,
		ErrRequestTimeout,
		ErrTransport,
		ErrSessionClosed,
		ErrRegistryClosed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindLabel returns a short label for metrics.
func KindLabel(err error) string {
	switch KindOf(err) {
	case ErrTransport:
		return "transport"
	case ErrRequestTimeout:
		return "timeout"
	case ErrKernelNotReady:
		return "kernel_not_ready"
	case ErrBackendRejection:
		return "backend_rejection"
	case ErrNotConnected:
		return "not_connected"
	case ErrSessionClosed:
		return "session_closed"
	case ErrRegistryClosed:
		return "registry_closed"
	default:
		return "other"
	}
}
