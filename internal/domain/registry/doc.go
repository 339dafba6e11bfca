// Package registry owns one kernel session, stream connection and message
// cache per logical uuid and hands out subscriber handles to them.
//
// Components:
//   - Registry: lazily creates, shares and tears down per-uuid entries
//   - Handle: one subscriber's view of an entry
//
// Lifecycle:
//   - Subscribe creates the entry on first use: the message snapshot is
//     restored from storage, the kernel identity is resolved against the
//     control plane's listing and the stream is connected
//   - Later subscribers share the entry; at most one connection exists per
//     uuid
//   - When the last handle goes away the connection is closed after a grace
//     period; the cache stays until Teardown
//   - Cache changes are snapshotted to storage after a debounce
//
// Errors from requests made through a Handle are returned and also appended
// to the entry's bounded error list, which every View carries.
//
// Example Usage:
//
//	reg := registry.New(registry.Options{Control: control, Dialer: dialer, Snapshots: snaps})
//	h, err := reg.Subscribe(ctx, uuid)
//	defer h.Close()
//	for range h.Updates() {
//		view := h.View()
//		...
//	}
package registry
