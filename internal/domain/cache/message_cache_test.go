package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

func msg(id, payload string) types.OutputMessage {
	return types.OutputMessage{MsgID: id, Payload: json.RawMessage(strconv.Quote(payload))}
}

func ids(msgs []types.OutputMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MsgID
	}
	return out
}

func TestAppendFirstSeenWins(t *testing.T) {
	c := New("x")

	c.Append([]types.OutputMessage{msg("1", "a")})
	got := c.Append([]types.OutputMessage{msg("1", "b"), msg("2", "c")})

	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].MsgID)
	assert.Equal(t, `"a"`, string(got[0].Payload))
	assert.Equal(t, "2", got[1].MsgID)
	assert.Equal(t, `"c"`, string(got[1].Payload))
	assert.Equal(t, got, c.GetAll())
}

func TestAppendDropsFalsyPayloadsAndMissingIDs(t *testing.T) {
	c := New("x")

	got := c.Append([]types.OutputMessage{
		{MsgID: "1"},
		{MsgID: "2", Payload: json.RawMessage("null")},
		{MsgID: "", Payload: json.RawMessage(`"orphan"`)},
		msg("3", "kept"),
	})

	assert.Equal(t, []string{"3"}, ids(got))
}

func TestAppendFalsyThenRealPayload(t *testing.T) {
	c := New("x")

	c.Append([]types.OutputMessage{{MsgID: "1", Payload: json.RawMessage(`""`)}})
	got := c.Append([]types.OutputMessage{msg("1", "late")})

	require.Len(t, got, 1)
	assert.Equal(t, `"late"`, string(got[0].Payload))
}

func TestAppendWithinOneBatch(t *testing.T) {
	c := New("x")

	got := c.Append([]types.OutputMessage{msg("1", "a"), msg("2", "b"), msg("1", "c")})

	assert.Equal(t, []string{"1", "2"}, ids(got))
	assert.Equal(t, `"a"`, string(got[0].Payload))
}

func TestReplace(t *testing.T) {
	c := New("x")
	c.Append([]types.OutputMessage{msg("1", "a"), msg("2", "b")})

	got := c.Replace([]types.OutputMessage{msg("3", "c"), msg("3", "d"), msg("1", "e")})

	assert.Equal(t, []string{"3", "1"}, ids(got))
	assert.Equal(t, `"c"`, string(got[0].Payload))
	assert.Equal(t, `"e"`, string(got[1].Payload))
	assert.Equal(t, 2, c.Len())
}

func TestClearAndVersion(t *testing.T) {
	c := New("x")
	v0 := c.Version()

	c.Append([]types.OutputMessage{msg("1", "a")})
	v1 := c.Version()
	assert.Greater(t, v1, v0)

	c.Append([]types.OutputMessage{msg("1", "again")})
	assert.Equal(t, v1, c.Version(), "redelivery must not bump the version")

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Greater(t, c.Version(), v1)
}

func TestGetAllReturnsCopy(t *testing.T) {
	c := New("x")
	c.Append([]types.OutputMessage{msg("1", "a")})

	got := c.GetAll()
	got[0].MsgID = "mutated"
	got[0].Payload[1] = 'z'

	again := c.GetAll()
	assert.Equal(t, "1", again[0].MsgID)
	assert.Equal(t, `"a"`, string(again[0].Payload))
}

func TestAppendCount(t *testing.T) {
	c := New("x")

	assert.Equal(t, 2, c.AppendCount([]types.OutputMessage{msg("1", "a"), msg("2", "b")}))
	assert.Equal(t, 1, c.AppendCount([]types.OutputMessage{msg("2", "b"), msg("3", "c")}))
	assert.Equal(t, 0, c.AppendCount([]types.OutputMessage{msg("3", "again")}))

	assert.Equal(t, []string{"1", "2", "3"}, ids(c.GetAll()))
}

func TestEmptyAppend(t *testing.T) {
	c := New("x")
	assert.Empty(t, c.Append(nil))
	assert.Empty(t, c.GetAll())
}

func TestSequenced(t *testing.T) {
	tests := []struct {
		name string
		in   []types.OutputMessage
		want []string
	}{
		{
			name: "all hinted sorts by hint",
			in: []types.OutputMessage{
				{MsgID: "b", SequenceHint: types.Sequence(2)},
				{MsgID: "a", SequenceHint: types.Sequence(1)},
				{MsgID: "c", SequenceHint: types.Sequence(3)},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "missing hint keeps first-seen order",
			in: []types.OutputMessage{
				{MsgID: "b", SequenceHint: types.Sequence(2)},
				{MsgID: "a"},
			},
			want: []string{"b", "a"},
		},
		{
			name: "equal hints are stable",
			in: []types.OutputMessage{
				{MsgID: "x", SequenceHint: types.Sequence(1)},
				{MsgID: "y", SequenceHint: types.Sequence(1)},
			},
			want: []string{"x", "y"},
		},
		{
			name: "arrival order ignored",
			in: []types.OutputMessage{
				{MsgID: "late", SequenceHint: types.Sequence(1), Arrival: 9},
				{MsgID: "early", SequenceHint: types.Sequence(0), Arrival: 1},
			},
			want: []string{"early", "late"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Sequenced(tt.in)))
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	c := New("x")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Append([]types.OutputMessage{msg(strconv.Itoa(i), fmt.Sprintf("w%d", w))})
			}
		}(w)
	}
	wg.Wait()

	all := c.GetAll()
	require.Len(t, all, 50)
	seen := map[string]bool{}
	for _, m := range all {
		assert.False(t, seen[m.MsgID], "duplicate msg_id %s", m.MsgID)
		seen[m.MsgID] = true
	}
}
