// Package config provides 12-factor configuration management for the execstream gateway.
//
// Configuration is loaded from environment variables with sensible defaults,
// or from a YAML/TOML file layered over the defaults.
//
// Configuration Sections:
//   - Server: gateway HTTP server settings (port, host)
//   - Kernel: kernel control plane (rest or grpc), timeouts, liveness polling
//   - Stream: event-stream transport (websocket or sse) and reconnect backoff
//   - Registry: grace period, snapshot debounce, error bound
//   - Storage: snapshot backend (memory, file, sqlite)
//   - Logging: log level, output format, optional rotated file
//   - RateLimit: per-IP rate limiting configuration
//   - Metrics: Prometheus endpoint
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - KERNEL_PROTOCOL, KERNEL_ADDR, KERNEL_REQUEST_TIMEOUT, KERNEL_LIVENESS_INTERVAL
//   - STREAM_TRANSPORT, STREAM_URL, STREAM_SEND_URL, STREAM_BACKOFF_*
//   - REGISTRY_GRACE_PERIOD, REGISTRY_SNAPSHOT_DEBOUNCE
//   - STORAGE_BACKEND, STORAGE_PATH
//   - LOG_LEVEL, LOG_DEV, LOG_FILE
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
//   - METRICS_ENABLED, METRICS_PATH
package config
