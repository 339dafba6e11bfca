package types

// StreamState is the state of one stream connection.
type StreamState int

const (
	StateUninstantiated StreamState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the string representation of the state
func (s StreamState) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s StreamState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
