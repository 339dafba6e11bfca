package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// batchesOf turns generated id batches into messages whose payload records
// the batch and position they were delivered in.
func batchesOf(raw [][]int) [][]types.OutputMessage {
	out := make([][]types.OutputMessage, len(raw))
	for b, batch := range raw {
		for p, n := range batch {
			out[b] = append(out[b], types.OutputMessage{
				MsgID:   strconv.Itoa(n),
				Payload: json.RawMessage(strconv.Quote(fmt.Sprintf("%d-%d", b, p))),
			})
		}
	}
	return out
}

// firstSeen is the reference model: concatenation of first occurrences.
func firstSeen(batches [][]types.OutputMessage) []types.OutputMessage {
	seen := map[string]bool{}
	var out []types.OutputMessage
	for _, batch := range batches {
		for _, m := range batch {
			if seen[m.MsgID] {
				continue
			}
			seen[m.MsgID] = true
			out = append(out, m)
		}
	}
	return out
}

func sameSequence(a, b []types.OutputMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].MsgID != b[i].MsgID || string(a[i].Payload) != string(b[i].Payload) {
			return false
		}
	}
	return true
}

func TestMessageCacheProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	batchGen := gen.SliceOf(gen.SliceOf(gen.IntRange(0, 15)))

	properties.Property("getAll equals first-seen concatenation across appends", prop.ForAll(
		func(raw [][]int) bool {
			batches := batchesOf(raw)
			c := New("prop")
			for _, batch := range batches {
				c.Append(batch)
			}
			return sameSequence(c.GetAll(), firstSeen(batches))
		},
		batchGen,
	))

	properties.Property("redelivery never moves or rewrites an entry", prop.ForAll(
		func(raw [][]int) bool {
			batches := batchesOf(raw)
			c := New("prop")
			for _, batch := range batches {
				c.Append(batch)
			}
			before := c.GetAll()

			// Redeliver everything with different payloads.
			for _, batch := range batches {
				replay := make([]types.OutputMessage, len(batch))
				for i, m := range batch {
					replay[i] = types.OutputMessage{MsgID: m.MsgID, Payload: json.RawMessage(`"replayed"`)}
				}
				c.Append(replay)
			}
			return sameSequence(before, c.GetAll())
		},
		batchGen,
	))

	properties.Property("append never shrinks the sequence", prop.ForAll(
		func(raw [][]int) bool {
			c := New("prop")
			prev := 0
			for _, batch := range batchesOf(raw) {
				n := len(c.Append(batch))
				if n < prev {
					return false
				}
				prev = n
			}
			return true
		},
		batchGen,
	))

	properties.Property("replace equals first-seen of its input", prop.ForAll(
		func(first, second []int) bool {
			batches := batchesOf([][]int{first, second})
			c := New("prop")
			c.Append(batches[0])
			got := c.Replace(batches[1])
			return sameSequence(got, firstSeen(batches[1:]))
		},
		gen.SliceOf(gen.IntRange(0, 15)),
		gen.SliceOf(gen.IntRange(0, 15)),
	))

	properties.TestingRun(t)
}
