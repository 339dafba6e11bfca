package stream

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Transition is one state change of a Connection.
type Transition struct {
	From       types.StreamState
	To         types.StreamState
	Generation uint64
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s#%d", t.From, t.To, t.Generation)
}

type edge struct {
	from, to types.StreamState
}

var legalEdges = map[edge]bool{
	{types.StateUninstantiated, types.StateConnecting}: true,
	{types.StateConnecting, types.StateOpen}:           true,
	{types.StateConnecting, types.StateClosed}:         true,
	{types.StateOpen, types.StateClosing}:              true,
	{types.StateClosing, types.StateClosed}:            true,
	{types.StateOpen, types.StateClosed}:               true,
}

// LegalEdge reports whether from -> to is allowed within one generation.
func LegalEdge(from, to types.StreamState) bool {
	return legalEdges[edge{from, to}]
}

// Legal reports whether next may follow prev. Within a generation only the
// six legal edges apply; a new generation may only start with
// closed -> connecting.
func Legal(prev, next Transition) bool {
	if next.From != prev.To {
		return false
	}
	switch next.Generation {
	case prev.Generation:
		return LegalEdge(next.From, next.To)
	case prev.Generation + 1:
		return next.From == types.StateClosed && next.To == types.StateConnecting
	default:
		return false
	}
}

// ValidateSequence checks a full transition history, starting from a fresh
// Connection.
func ValidateSequence(ts []Transition) error {
	if len(ts) == 0 {
		return nil
	}
	first := ts[0]
	if first.From != types.StateUninstantiated || first.To != types.StateConnecting || first.Generation != 1 {
		return fmt.Errorf("illegal first transition %s", first)
	}
	for i := 1; i < len(ts); i++ {
		if !Legal(ts[i-1], ts[i]) {
			return fmt.Errorf("illegal transition %s after %s", ts[i], ts[i-1])
		}
	}
	return nil
}
