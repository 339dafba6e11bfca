// Package main is the entry point for the execstream gateway.
//
// The gateway keeps one live session per notebook cell uuid against a
// remote execution kernel and fans its output out to any number of
// subscribers over REST and WebSocket.
//
// Architecture:
//
//	Clients (REST / WebSocket) → Gateway → Kernel control API (REST or gRPC)
//	                                    → Kernel event stream (WebSocket or SSE)
//
// The server provides:
//   - REST API for execute, interrupt, restart and raw send
//   - WebSocket relay of snapshots and deltas per uuid
//   - Output and UI state persistence across restarts
//   - Prometheus metrics and per-client rate limiting
//
// Configuration:
//   - Environment variables (12-factor)
//   - YAML or TOML file via -config
//   - CLI flags (override both)
//
// Usage:
//
//	# Defaults from environment
//	./server -port 8000 -kernel http://localhost:8888
//
//	# File based, SSE stream
//	STREAM_TRANSPORT=sse ./server -config execstream.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
