package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Message types sent by the relay.
const (
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
	TypeResult   = "result"
	TypeError    = "error"
	TypePong     = "pong"
	TypeClosed   = "closed"
)

// Command types accepted from clients.
const (
	CommandExecute   = "execute"
	CommandInterrupt = "interrupt"
	CommandRestart   = "restart"
	CommandSend      = "send"
	CommandPing      = "ping"
)

// Command is a client request. ID is echoed in the reply so clients can
// correlate results.
type Command struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Code string          `json:"code,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is everything the relay writes.
type ServerMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// snapshot and delta
	UUID         string                `json:"uuid,omitempty"`
	Events       []types.OutputMessage `json:"events,omitempty"`
	Offset       int                   `json:"offset,omitempty"`
	Status       *types.StreamState    `json:"status,omitempty"`
	Loading      *bool                 `json:"loading,omitempty"`
	Kernel       *types.KernelIdentity `json:"kernel,omitempty"`
	KernelStatus *types.KernelStatus   `json:"kernel_status,omitempty"`
	Errors       []string              `json:"errors,omitempty"`

	// result and error
	ID      string `json:"id,omitempty"`
	Op      string `json:"op,omitempty"`
	MsgID   string `json:"msg_id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func newMessage(typ string) ServerMessage {
	return ServerMessage{Type: typ, Timestamp: time.Now().Unix()}
}

// tracker remembers what a client has been sent so each update carries
// only the difference.
type tracker struct {
	// sent holds the ids of the events sent so far, in view order
	sent   []string
	resets uint64
	errors int
	// lastError identifies the newest error sent
	lastError string

	status       types.StreamState
	loading      bool
	kernel       types.KernelIdentity
	kernelStatus types.KernelStatus
}

// snapshot renders the full view and resets the tracker to it.
func (t *tracker) snapshot(v types.View) ServerMessage {
	msg := newMessage(TypeSnapshot)
	msg.UUID = v.UUID
	msg.Events = v.Events
	if msg.Events == nil {
		msg.Events = []types.OutputMessage{}
	}
	msg.Status = &v.Status
	msg.Loading = &v.Loading
	msg.Kernel = &v.Kernel
	msg.KernelStatus = &v.KernelStatus
	msg.Errors = v.ErrorStrings()

	t.sent = eventIDs(v.Events)
	t.resets = v.Resets
	t.errors = len(v.Errors)
	t.lastError = errorMark(v.Errors)
	t.status = v.Status
	t.loading = v.Loading
	t.kernel = v.Kernel
	t.kernelStatus = v.KernelStatus
	return msg
}

// delta renders what changed since the last message, or a fresh snapshot
// when the events were replaced or reordered. ok is false when nothing
// changed.
func (t *tracker) delta(v types.View) (ServerMessage, bool) {
	if v.Resets != t.resets || !t.extends(v.Events) {
		return t.snapshot(v), true
	}

	msg := newMessage(TypeDelta)
	msg.UUID = v.UUID
	changed := false

	if len(v.Events) > len(t.sent) {
		msg.Events = v.Events[len(t.sent):]
		msg.Offset = len(t.sent)
		t.sent = eventIDs(v.Events)
		changed = true
	}
	if v.Status != t.status {
		msg.Status = &v.Status
		t.status = v.Status
		changed = true
	}
	if v.Loading != t.loading {
		msg.Loading = &v.Loading
		t.loading = v.Loading
		changed = true
	}
	if v.Kernel != t.kernel {
		msg.Kernel = &v.Kernel
		t.kernel = v.Kernel
		changed = true
	}
	if v.KernelStatus != t.kernelStatus {
		msg.KernelStatus = &v.KernelStatus
		t.kernelStatus = v.KernelStatus
		changed = true
	}

	// the error list is bounded, so its length can stay put while its
	// contents rotate
	if mark := errorMark(v.Errors); len(v.Errors) != t.errors || mark != t.lastError {
		msg.Errors = v.ErrorStrings()
		t.errors = len(v.Errors)
		t.lastError = mark
		changed = true
	}
	return msg, changed
}

// extends reports whether events still starts with what was sent. A
// sequence hint can place a late message ahead of ones already sent.
func (t *tracker) extends(events []types.OutputMessage) bool {
	if len(events) < len(t.sent) {
		return false
	}
	for i, id := range t.sent {
		if events[i].MsgID != id {
			return false
		}
	}
	return true
}

func eventIDs(events []types.OutputMessage) []string {
	out := make([]string, len(events))
	for i, m := range events {
		out[i] = m.MsgID
	}
	return out
}

func errorMark(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	last := errs[len(errs)-1]
	var se *types.SessionError
	if errors.As(last, &se) {
		return se.At.Format(time.RFC3339Nano) + " " + se.Error()
	}
	return last.Error()
}
