// Package cache provides the ordered, deduplicated output store for one
// logical execution context.
//
// A MessageCache holds the output timeline a subscriber renders. Entries are
// keyed by msg_id and the first occurrence wins: a redelivered message after a
// reconnect or replay neither moves nor replaces the original. Append only
// ever grows the sequence; Replace rebuilds it; Clear empties it.
//
// The cache performs no I/O and starts no timers.
//
// Example Usage:
//
//	c := cache.New("notebook-1")
//	c.Append([]types.OutputMessage{{MsgID: "1", Payload: raw}})
//	all := c.GetAll()
package cache
