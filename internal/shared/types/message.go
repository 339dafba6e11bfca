package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Message types understood by the orchestration layer. Anything else is
// carried through as opaque output.
const (
	MsgTypeExecuteRequest = "execute_request"
	MsgTypeExecuteReply   = "execute_reply"
	MsgTypeExecuteResult  = "execute_result"
	MsgTypeStream         = "stream"
	MsgTypeError          = "error"
	MsgTypeStatus         = "status"
)

// OutputMessage is a single output fragment for one logical uuid.
type OutputMessage struct {
	MsgID        string          `json:"msg_id"`
	MsgType      string          `json:"msg_type,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	SequenceHint *int64          `json:"sequence,omitempty"`
	Arrival      uint64          `json:"arrival,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// falsy payload encodings, matched after trimming whitespace
var falsyPayloads = [][]byte{
	[]byte("null"),
	[]byte("false"),
	[]byte("0"),
	[]byte(`""`),
}

// HasPayload reports whether the payload is present and not a falsy JSON value.
func (m OutputMessage) HasPayload() bool {
	p := bytes.TrimSpace(m.Payload)
	if len(p) == 0 {
		return false
	}
	for _, f := range falsyPayloads {
		if bytes.Equal(p, f) {
			return false
		}
	}
	return true
}

// IsTerminal reports whether the message marks completion of an execute request.
func (m OutputMessage) IsTerminal() bool {
	return m.MsgType == MsgTypeExecuteReply
}

// HasSequence reports whether the backend supplied a sequence hint.
func (m OutputMessage) HasSequence() bool {
	return m.SequenceHint != nil
}

// Clone returns a deep copy so callers cannot alias cached payload bytes.
func (m OutputMessage) Clone() OutputMessage {
	c := m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.SequenceHint != nil {
		seq := *m.SequenceHint
		c.SequenceHint = &seq
	}
	return c
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []OutputMessage) []OutputMessage {
	out := make([]OutputMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Sequence returns a pointer to seq, for building messages in code and tests.
func Sequence(seq int64) *int64 {
	return &seq
}
