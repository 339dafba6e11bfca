// Package middleware provides the gateway's HTTP middleware.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, WebSocket upgrades allowed
//   - RateLimit: Per-IP token bucket rate limiting
//   - RequestID: X-Request-ID tagging, echoed in the response
//   - Logger: Structured request logging through zap
//
// Rate Limiting:
//   - Per-IP limiters, evicted after IdleTTL without traffic
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.RateLimitFromConfig(cfg.RateLimit)))
package middleware
