/*
Package ws relays session views to WebSocket clients.

A client connects to /sessions/:uuid/stream and holds a subscriber handle
for as long as the socket is open. The relay writes:

	{"type":"snapshot", "events":[...], "status":"open", ...}
	{"type":"delta", "offset":3, "events":[...]}

A delta carries only the fields that changed. When the backend replays its
history the relay sends a new snapshot instead.

Clients send commands and get a result or error carrying the same id:

	{"type":"execute", "id":"1", "code":"print(1)"}
	{"type":"result", "id":"1", "op":"execute", "msg_id":"..."}

Supported commands are execute, interrupt, restart, send and ping.
*/
package ws
