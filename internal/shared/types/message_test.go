package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "missing", payload: "", want: false},
		{name: "null", payload: "null", want: false},
		{name: "false", payload: "false", want: false},
		{name: "zero", payload: "0", want: false},
		{name: "empty string", payload: `""`, want: false},
		{name: "whitespace null", payload: "  null \n", want: false},
		{name: "object", payload: `{"text":"hi"}`, want: true},
		{name: "string", payload: `"a"`, want: true},
		{name: "true", payload: "true", want: true},
		{name: "number", payload: "42", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := OutputMessage{MsgID: "1", Payload: json.RawMessage(tt.payload)}
			assert.Equal(t, tt.want, msg.HasPayload())
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := OutputMessage{MsgID: "1", Payload: json.RawMessage(`"a"`), SequenceHint: Sequence(3)}
	clone := orig.Clone()

	clone.Payload[1] = 'b'
	*clone.SequenceHint = 9

	assert.Equal(t, `"a"`, string(orig.Payload))
	assert.Equal(t, int64(3), *orig.SequenceHint)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, OutputMessage{MsgType: MsgTypeExecuteReply}.IsTerminal())
	assert.False(t, OutputMessage{MsgType: MsgTypeStream}.IsTerminal())
}

func TestSessionErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewSessionError("x", "connect", ErrTransport, cause)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRequestTimeout)
	assert.Contains(t, err.Error(), "connection reset")

	wrapped := fmt.Errorf("subscribe: %w", err)
	assert.Equal(t, ErrTransport, KindOf(wrapped))
	assert.Equal(t, "transport", KindLabel(wrapped))
}

func TestSessionErrorNamesKindOnce(t *testing.T) {
	cause := fmt.Errorf("%w: send: %w", ErrTransport, errors.New("broken pipe"))
	err := NewSessionError("u1", "execute", ErrTransport, cause)
	assert.Equal(t, "u1 execute: transport error: send: broken pipe", err.Error())

	plain := NewSessionError("u1", "execute", ErrKernelNotReady, errors.New("kernel is dead"))
	assert.Equal(t, "u1 execute: kernel not ready: kernel is dead", plain.Error())
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "kernel_not_ready", KindLabel(NewSessionError("x", "execute", ErrKernelNotReady, nil)))
	assert.Equal(t, "other", KindLabel(errors.New("boom")))
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "uninstantiated", StateUninstantiated.String())
	require.Equal(t, "closing", StateClosing.String())
	text, err := StateOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "open", string(text))
	assert.Equal(t, "busy", KernelStatusBusy.String())
}
