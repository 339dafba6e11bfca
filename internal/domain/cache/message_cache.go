package cache

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// MessageCache is the deduplicated output sequence for one uuid.
type MessageCache struct {
	uuid string

	mu      sync.RWMutex
	entries []types.OutputMessage // Protected by mu
	index   map[string]int        // msg_id -> position, protected by mu
	version uint64                // bumped on every effective mutation
}

// New creates an empty cache for uuid.
func New(uuid string) *MessageCache {
	return &MessageCache{
		uuid:  uuid,
		index: make(map[string]int),
	}
}

// UUID returns the logical uuid this cache belongs to.
func (c *MessageCache) UUID() string {
	return c.uuid
}

// Append merges msgs into the sequence and returns a copy of the result.
func (c *MessageCache) Append(msgs []types.OutputMessage) []types.OutputMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.appendLocked(msgs) > 0 {
		c.version++
	}
	return types.CloneMessages(c.entries)
}

// AppendCount is Append but reports how many messages were new, for callers
// that need to tell a redelivery from fresh output.
func (c *MessageCache) AppendCount(msgs []types.OutputMessage) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := c.appendLocked(msgs)
	if added > 0 {
		c.version++
	}
	return added
}

// Replace discards the current sequence and rebuilds it from msgs.
func (c *MessageCache) Replace(msgs []types.OutputMessage) []types.OutputMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.index = make(map[string]int, len(msgs))
	c.appendLocked(msgs)
	c.version++
	return types.CloneMessages(c.entries)
}

// GetAll returns a copy of the sequence in first-seen order.
func (c *MessageCache) GetAll() []types.OutputMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return types.CloneMessages(c.entries)
}

// Clear empties the cache.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.index = make(map[string]int)
	c.version++
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Version changes whenever the visible sequence changes.
func (c *MessageCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *MessageCache) appendLocked(msgs []types.OutputMessage) int {
	added := 0
	for _, m := range msgs {
		if !accept(m) {
			continue
		}
		if _, seen := c.index[m.MsgID]; seen {
			continue
		}
		c.index[m.MsgID] = len(c.entries)
		c.entries = append(c.entries, m.Clone())
		added++
	}
	return added
}

// accept drops entries that cannot be shown or cannot be deduplicated.
func accept(m types.OutputMessage) bool {
	return m.MsgID != "" && m.HasPayload()
}

// Sequenced orders msgs by sequence hint when every message carries one.
// Otherwise first-seen order is kept; arrival order is never consulted.
func Sequenced(msgs []types.OutputMessage) []types.OutputMessage {
	out := types.CloneMessages(msgs)
	for _, m := range out {
		if !m.HasSequence() {
			return out
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].SequenceHint < *out[j].SequenceHint
	})
	return out
}
