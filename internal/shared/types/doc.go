// Package types provides shared data structures for the execstream client.
//
// This package defines the data model shared by the cache, stream, kernel,
// storage and registry packages, so none of them depend on each other just
// to exchange values.
//
// Core Types:
//   - OutputMessage: One output fragment, deduplicated by MsgID
//   - KernelIdentity: Addressable remote kernel and its liveness
//   - StreamState: Connection state machine states
//   - View: Read projection handed to subscribers
//   - UIState: Small per-uuid interaction state persisted across reloads
//
// Errors:
//   - ErrTransport, ErrRequestTimeout, ErrKernelNotReady,
//     ErrBackendRejection, ErrNotConnected: the error taxonomy
//   - SessionError: uuid-scoped wrapper matching both kind and cause
//
// Example Usage:
//
//	msg := types.OutputMessage{
//	    MsgID:   "c0ffee",
//	    MsgType: types.MsgTypeStream,
//	    Payload: json.RawMessage(`{"text":"hello"}`),
//	}
//	if msg.HasPayload() { ... }
package types
