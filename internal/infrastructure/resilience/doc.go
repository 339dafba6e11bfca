/*
Package resilience provides the circuit breaker guarding kernel control calls
and the backoff policy used for stream reconnects.

# Overview

The breaker keeps a struggling control plane from being hammered by every
subscriber at once; Backoff spaces reconnect attempts exponentially with a
cap and jitter so many clients do not reconnect in lockstep.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Automatic state transitions
- Concurrent request handling
- State change callbacks for monitoring
- Error classification so definitive rejections do not trip the circuit
- Thread-safe operations

# Usage

	// Create a circuit breaker
	breaker := resilience.New("kernel-control", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// Execute request through breaker
	kernels, err := resilience.Call(breaker, func() ([]types.KernelIdentity, error) {
		return control.List(ctx)
	})

	// Reconnect delays
	backoff := resilience.Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
	time.Sleep(backoff.Delay(attempt))

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
