package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	// KindMessage is a single output message
	KindMessage FrameKind = iota
	// KindBatch is a list appended to the cache
	KindBatch
	// KindHistory is a full replay that replaces the cache
	KindHistory
	// KindStatus carries only a liveness signal
	KindStatus
)

func (k FrameKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindBatch:
		return "batch"
	case KindHistory:
		return "history"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Envelope is a decoded inbound frame. Status messages are lifted out of
// Messages into ExecutionState, the last one winning.
type Envelope struct {
	Kind           FrameKind
	Messages       []types.OutputMessage
	ExecutionState string
}

// HasStatus reports whether the frame carried a liveness signal.
func (e Envelope) HasStatus() bool {
	return e.ExecutionState != ""
}

type wireFrame struct {
	Kind     string                `json:"kind"`
	Messages []types.OutputMessage `json:"messages"`
	types.OutputMessage
}

type statusPayload struct {
	ExecutionState string `json:"execution_state"`
}

// Decode parses a raw frame.
func Decode(data []byte) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{}, fmt.Errorf("decode frame: empty")
	}

	var wf wireFrame
	if err := sonic.Unmarshal(data, &wf); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}

	var env Envelope
	var msgs []types.OutputMessage
	switch wf.Kind {
	case "batch":
		env.Kind = KindBatch
		msgs = wf.Messages
	case "history":
		env.Kind = KindHistory
		msgs = wf.Messages
	case "", "message":
		env.Kind = KindMessage
		msgs = []types.OutputMessage{wf.OutputMessage}
	default:
		return Envelope{}, fmt.Errorf("decode frame: unknown kind %q", wf.Kind)
	}

	env.Messages = make([]types.OutputMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.MsgType == types.MsgTypeStatus {
			var sp statusPayload
			if err := sonic.Unmarshal(m.Payload, &sp); err == nil && sp.ExecutionState != "" {
				env.ExecutionState = sp.ExecutionState
			}
			continue
		}
		env.Messages = append(env.Messages, m)
	}

	if env.Kind == KindMessage && len(env.Messages) == 0 {
		env.Kind = KindStatus
	}
	return env, nil
}

type executeRequest struct {
	MsgID   string         `json:"msg_id"`
	MsgType string         `json:"msg_type"`
	Payload executePayload `json:"payload"`
}

type executePayload struct {
	Code string `json:"code"`
}

// EncodeExecuteRequest builds the outgoing frame for an execute request.
func EncodeExecuteRequest(msgID, code string) ([]byte, error) {
	return sonic.Marshal(executeRequest{
		MsgID:   msgID,
		MsgType: types.MsgTypeExecuteRequest,
		Payload: executePayload{Code: code},
	})
}

// EncodeMessage builds a single-message frame, e.g. for a fake backend.
func EncodeMessage(m types.OutputMessage) ([]byte, error) {
	return sonic.Marshal(m)
}

// EncodeBatch builds a batch or history frame.
func EncodeBatch(kind FrameKind, msgs []types.OutputMessage) ([]byte, error) {
	name := "batch"
	if kind == KindHistory {
		name = "history"
	}
	return sonic.Marshal(struct {
		Kind     string                `json:"kind"`
		Messages []types.OutputMessage `json:"messages"`
	}{name, msgs})
}

// EncodeStatus builds a status frame.
func EncodeStatus(msgID, executionState string) ([]byte, error) {
	payload, err := sonic.Marshal(statusPayload{ExecutionState: executionState})
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(types.OutputMessage{
		MsgID:   msgID,
		MsgType: types.MsgTypeStatus,
		Payload: json.RawMessage(payload),
	})
}
