// Package stream manages the event-stream transport for one logical uuid.
//
// A Connection owns at most one live transport at a time and walks the
// state machine
//
//	uninstantiated -> connecting -> open -> closing -> closed
//	                             \-> closed   \-> closed
//
// Each transport attempt is a generation. Transport failures close the
// current generation and, after a jittered exponential backoff, open the next
// one with closed -> connecting. Inbound frames, transitions and errors are
// delivered to Handlers in a single total order.
//
// Two transports are provided: WebSocketDialer (gorilla/websocket) and
// SSEDialer (resty, Server-Sent Events down, HTTP POST up).
package stream
