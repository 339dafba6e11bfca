package types

// Execution states reported by the backend in status frames and listings.
const (
	ExecutionStateIdle     = "idle"
	ExecutionStateBusy     = "busy"
	ExecutionStateStarting = "starting"
	ExecutionStateDead     = "dead"
)

// KernelIdentity identifies one remote kernel and its last known liveness.
type KernelIdentity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Alive          bool   `json:"alive"`
	ExecutionState string `json:"execution_state,omitempty"`
}

// AliveFromState maps a backend execution state to liveness.
func AliveFromState(state string) bool {
	return state != ExecutionStateDead && state != ""
}

// KernelStatus is the consumer-facing readiness of a kernel.
type KernelStatus int

const (
	// KernelStatusUnknown means the kernel has not been resolved yet
	KernelStatusUnknown KernelStatus = iota
	// KernelStatusReady means alive and accepting execute requests
	KernelStatusReady
	// KernelStatusBusy covers the window between restart and the next liveness signal
	KernelStatusBusy
	// KernelStatusDead means not alive
	KernelStatusDead
)

// String returns the string representation of the status
func (s KernelStatus) String() string {
	switch s {
	case KernelStatusReady:
		return "ready"
	case KernelStatusBusy:
		return "busy"
	case KernelStatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s KernelStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
